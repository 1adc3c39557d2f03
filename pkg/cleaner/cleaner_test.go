package cleaner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanRemovesBoilerplate(t *testing.T) {
	raw := `<!DOCTYPE html>
<html>
<head><title>Doc</title><style>body { color: red }</style></head>
<body>
  <header>Site header</header>
  <nav><a href="/">Home</a></nav>
  <main>
    <h1>Go   Concurrency</h1>
    <p>Goroutines are
       cheap.</p>
    <script>alert("x")</script>
    <noscript>enable js</noscript>
    <!-- a comment -->
  </main>
  <footer>Copyright</footer>
</body>
</html>`

	assert.Equal(t, "Go Concurrency Goroutines are cheap.", Clean(raw))
}

func TestCleanSeparatesAdjacentElements(t *testing.T) {
	assert.Equal(t, "one two", Clean("<body><p>one</p><p>two</p></body>"))
}

func TestCleanIsDeterministic(t *testing.T) {
	raw := "<body><div>a\n\n\tb</div><span> c </span></body>"
	first := Clean(raw)
	assert.Equal(t, first, Clean(raw))
	assert.Equal(t, "a b c", first)
}

func TestCleanEmptyAndScriptOnly(t *testing.T) {
	assert.Equal(t, "", Clean(""))
	assert.Equal(t, "", Clean("<html><body><script>var x = 1;</script></body></html>"))
}

func TestCleanPlainText(t *testing.T) {
	assert.Equal(t, "just some text", Clean("  just   some\ntext "))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Hello World", Title("<html><head><title>  Hello\n World </title></head></html>"))
	assert.Equal(t, "", Title("<p>no title</p>"))
}
