// Package es 实现基于 Elasticsearch dense_vector + kNN 的向量索引。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/elastic/go-elasticsearch/v8"

	"webrag-go/internal/config"
	"webrag-go/pkg/errs"
	"webrag-go/pkg/log"
	"webrag-go/pkg/vectorstore"
)

// Store 是 vectorstore.Store 的 Elasticsearch 实现。
type Store struct {
	client  *elasticsearch.Client
	index   string
	dims    int
	ensured atomic.Bool
}

// NewClient 根据配置创建 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
	}
	if esCfg.Insecure {
		cfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return elasticsearch.NewClient(cfg)
}

// New 创建 Store。index 即集合名，dims 为向量维度。
func New(client *elasticsearch.Client, index string, dims int) *Store {
	return &Store{client: client, index: index, dims: dims}
}

// Open 按配置建立客户端并返回 Store，不会立即创建索引。
func Open(esCfg config.ElasticsearchConfig, vsCfg config.VectorStoreConfig) (*Store, error) {
	client, err := NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("创建 Elasticsearch 客户端失败: %w", err)
	}
	return New(client, vsCfg.Collection, vsCfg.Dimensions), nil
}

func (s *Store) Dimensions() int { return s.dims }
func (s *Store) Close() error    { return nil }

// Ping 检查集群是否可达。
func (s *Store) Ping(ctx context.Context) error {
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: %s", res.Status())
	}
	return nil
}

func (s *Store) mapping() string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"text":        { "type": "text" },
				"source_url":  { "type": "keyword" },
				"job_id":      { "type": "keyword" },
				"chunk_index": { "type": "integer" },
				"ingested_at": { "type": "date" },
				"title":       { "type": "keyword" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, s.dims)
}

// EnsureCollection 检查索引是否存在，不存在则创建。并发创建时的 already exists 视为成功。
func (s *Store) EnsureCollection(ctx context.Context) error {
	if s.ensured.Load() {
		return nil
	}

	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: 检查索引是否存在失败: %w", errs.ErrIndex, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		s.ensured.Store(true)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: 检查索引 '%s' 时收到意外的状态码: %d", errs.ErrIndex, s.index, res.StatusCode)
	}

	res, err = s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithBody(strings.NewReader(s.mapping())),
		s.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("%w: 创建索引 '%s' 失败: %w", errs.ErrIndex, s.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		if strings.Contains(string(body), "resource_already_exists_exception") {
			log.Infof("索引 '%s' 已由其他进程创建", s.index)
			s.ensured.Store(true)
			return nil
		}
		return fmt.Errorf("%w: 创建索引 '%s' 时 Elasticsearch 返回错误: %s", errs.ErrIndex, s.index, string(body))
	}

	log.Infof("索引 '%s' 创建成功, dims=%d", s.index, s.dims)
	s.ensured.Store(true)
	return nil
}

type document struct {
	vectorstore.Payload
	Vector []float32 `json:"vector"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Upsert 通过 _bulk 以确定性 _id 写入所有点，重复执行会覆盖同一批文档。
func (s *Store) Upsert(ctx context.Context, points []vectorstore.Point) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}
	if err := vectorstore.CheckDimensions(points, s.dims); err != nil {
		return 0, err
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range points {
		action := map[string]any{"index": map[string]any{"_index": s.index, "_id": p.ID()}}
		if err := enc.Encode(action); err != nil {
			return 0, err
		}
		if err := enc.Encode(document{Payload: p.Payload, Vector: p.Vector}); err != nil {
			return 0, err
		}
	}

	res, err := s.client.Bulk(
		bytes.NewReader(buf.Bytes()),
		s.client.Bulk.WithContext(ctx),
		s.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: bulk 请求失败: %w", errs.ErrIndex, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("%w: bulk 返回错误: %s", errs.ErrIndex, res.String())
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return 0, fmt.Errorf("%w: 解析 bulk 响应失败: %w", errs.ErrIndex, err)
	}
	written := 0
	var firstErr string
	for _, item := range br.Items {
		for _, r := range item {
			if r.Error == nil && r.Status < 300 {
				written++
			} else if firstErr == "" && r.Error != nil {
				firstErr = fmt.Sprintf("%s: %s: %s", r.ID, r.Error.Type, r.Error.Reason)
			}
		}
	}
	if br.Errors || written != len(points) {
		return written, fmt.Errorf("%w: %d/%d 文档写入失败, 首个错误: %s", errs.ErrIndex, len(points)-written, len(points), firstErr)
	}
	return written, nil
}

// DeletePointsFrom 删除该任务 chunk_index >= from 的旧文档（重跑后分块变少时残留）。
func (s *Store) DeletePointsFrom(ctx context.Context, jobID string, from int) (int, error) {
	if err := s.EnsureCollection(ctx); err != nil {
		return 0, err
	}
	body, err := json.Marshal(map[string]any{
		"query": map[string]any{"bool": map[string]any{"filter": []any{
			map[string]any{"term": map[string]any{"job_id": jobID}},
			map[string]any{"range": map[string]any{"chunk_index": map[string]any{"gte": from}}},
		}}},
	})
	if err != nil {
		return 0, err
	}
	res, err := s.client.DeleteByQuery(
		[]string{s.index},
		bytes.NewReader(body),
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithConflicts("proceed"),
		s.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: delete_by_query 请求失败: %w", errs.ErrIndex, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("%w: delete_by_query 返回错误: %s", errs.ErrIndex, res.String())
	}
	var dr struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&dr); err != nil {
		return 0, fmt.Errorf("%w: 解析 delete_by_query 响应失败: %w", errs.ErrIndex, err)
	}
	return dr.Deleted, nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string              `json:"_id"`
			Score  float64             `json:"_score"`
			Source vectorstore.Payload `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// buildSearchBody 构造 kNN 查询，过滤条件为各字段 term 的 AND。
func (s *Store) buildSearchBody(vector []float32, topK int, filters map[string]any) map[string]any {
	knn := map[string]any{
		"field":          "vector",
		"query_vector":   vector,
		"k":              topK,
		"num_candidates": max(topK*10, 100),
	}
	if len(filters) > 0 {
		terms := make([]any, 0, len(filters))
		for _, k := range vectorstore.SortedFilterKeys(filters) {
			terms = append(terms, map[string]any{"term": map[string]any{k: filters[k]}})
		}
		knn["filter"] = map[string]any{"bool": map[string]any{"filter": terms}}
	}
	return map[string]any{
		"size":    topK,
		"knn":     knn,
		"_source": map[string]any{"excludes": []string{"vector"}},
	}
}

// Search 执行 kNN 检索。Elasticsearch 的 cosine 得分为 (1+cos)/2，这里换算回余弦相似度。
func (s *Store) Search(ctx context.Context, vector []float32, topK int, filters map[string]any) ([]vectorstore.Hit, error) {
	if err := vectorstore.ValidateFilters(filters); err != nil {
		return nil, err
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(s.buildSearchBody(vector, topK, vectorstore.NormalizeFilters(filters)))
	if err != nil {
		return nil, err
	}
	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: 搜索请求失败: %w", errs.ErrIndex, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("%w: 搜索返回错误: %s", errs.ErrIndex, res.String())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("%w: 解析搜索响应失败: %w", errs.ErrIndex, err)
	}

	hits := make([]vectorstore.Hit, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		sim := 2*h.Score - 1
		hits = append(hits, vectorstore.Hit{Payload: h.Source, Similarity: &sim})
	}
	return hits, nil
}

var _ vectorstore.Store = (*Store)(nil)
