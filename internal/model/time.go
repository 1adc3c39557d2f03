package model

import (
	"fmt"
	"time"
)

// UTCTime 以 "YYYY-MM-DDTHH:MM:SSZ" 格式序列化时间，统一转换为 UTC。
type UTCTime time.Time

const timeFormat = "2006-01-02T15:04:05Z"

// MarshalJSON implements the json.Marshaler interface.
func (t UTCTime) MarshalJSON() ([]byte, error) {
	formatted := fmt.Sprintf("\"%s\"", time.Time(t).UTC().Format(timeFormat))
	return []byte(formatted), nil
}

// NewUTCTime 将可空时间转换为可空 UTCTime，便于 JSON 输出 null。
func NewUTCTime(t *time.Time) *UTCTime {
	if t == nil {
		return nil
	}
	u := UTCTime(*t)
	return &u
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (t *UTCTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	parsed, err := time.Parse(`"`+time.RFC3339+`"`, string(b))
	if err != nil {
		return err
	}
	*t = UTCTime(parsed)
	return nil
}
