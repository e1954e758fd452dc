package knowledge

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/ledongthuc/pdf"

	constants "multisource-digest/api/constants"
)

const maxDocumentBytes = 64 << 20

var ErrEmptyDocument = errors.New("knowledge: document has no extractable text")

// Extractor turns a downloaded document into plain text.
type Extractor func(data []byte) (string, error)

type chunk struct {
	Source string `json:"source"`
	Seq    int    `json:"seq"`
	Text   string `json:"text"`
}

// Store downloads documents, splits them into overlapping chunks and keeps
// them in an in-memory BM25 index for retrieval.
type Store struct {
	mu       sync.RWMutex
	index    bleve.Index
	chunks   map[string]chunk
	ingested map[string]int

	client    *http.Client
	extract   Extractor
	chunkSize int
	overlap   int
}

type Option func(*Store)

func WithHTTPClient(c *http.Client) Option { return func(s *Store) { s.client = c } }

func WithExtractor(e Extractor) Option { return func(s *Store) { s.extract = e } }

func WithChunking(size, overlap int) Option {
	return func(s *Store) {
		if size > 0 {
			s.chunkSize = size
		}
		if overlap >= 0 && overlap < s.chunkSize {
			s.overlap = overlap
		}
	}
}

func NewStore(opts ...Option) (*Store, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("knowledge: create index: %w", err)
	}
	s := &Store{
		index:     index,
		chunks:    make(map[string]chunk),
		ingested:  make(map[string]int),
		client:    &http.Client{Timeout: constants.ScrapeTimeout},
		extract:   PDFText,
		chunkSize: 1000,
		overlap:   200,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Ingest downloads and indexes every source not already in the store.
func (s *Store) Ingest(ctx context.Context, sources []string) error {
	for _, src := range sources {
		s.mu.RLock()
		_, done := s.ingested[src]
		s.mu.RUnlock()
		if done {
			continue
		}

		data, err := s.download(ctx, src)
		if err != nil {
			return err
		}
		text, err := s.extract(data)
		if err != nil {
			return fmt.Errorf("knowledge: extract %s: %w", src, err)
		}
		text = strings.Join(strings.Fields(text), " ")
		if text == "" {
			return fmt.Errorf("%w: %s", ErrEmptyDocument, src)
		}
		if err := s.add(src, text); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) add(src, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := makeChunks(text, s.chunkSize, s.overlap)
	batch := s.index.NewBatch()
	for i, part := range parts {
		c := chunk{Source: src, Seq: i, Text: part}
		id := chunkID(src, i)
		if err := batch.Index(id, c); err != nil {
			return fmt.Errorf("knowledge: index %s: %w", src, err)
		}
		s.chunks[id] = c
	}
	if err := s.index.Batch(batch); err != nil {
		return fmt.Errorf("knowledge: index %s: %w", src, err)
	}
	s.ingested[src] = len(parts)
	constants.Logger.Info("Indexed document", "source", src, "chunks", len(parts), "chars", len(text))
	return nil
}

// Query returns up to k passages relevant to question, optionally limited to
// the given sources. When nothing matches, the leading chunks of the sources
// are returned so a summary can still be written.
func (s *Store) Query(ctx context.Context, question string, k int, sources ...string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 4
	}
	allowed := make(map[string]bool, len(sources))
	for _, src := range sources {
		allowed[src] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	if q := strings.TrimSpace(question); q != "" {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(q), k*10, 0, false)
		res, err := s.index.Search(req)
		if err != nil {
			return nil, fmt.Errorf("knowledge: search: %w", err)
		}
		for _, hit := range res.Hits {
			c, ok := s.chunks[hit.ID]
			if !ok || (len(allowed) > 0 && !allowed[c.Source]) {
				continue
			}
			out = append(out, c.Text)
			if len(out) >= k {
				break
			}
		}
	}
	if len(out) > 0 {
		return out, nil
	}

	for src, n := range s.ingested {
		if len(allowed) > 0 && !allowed[src] {
			continue
		}
		for i := 0; i < n && len(out) < k; i++ {
			out = append(out, s.chunks[chunkID(src, i)].Text)
		}
		if len(out) >= k {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("knowledge: no passages for %q", question)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.index.Close()
}

func (s *Store) download(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("knowledge: create request for %s: %w", src, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge: download %s: %w", src, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("knowledge: download %s: status code %d", src, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("knowledge: read %s: %w", src, err)
	}
	return data, nil
}

// PDFText extracts the plain text layer of a PDF.
func PDFText(data []byte) (text string, err error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF")) {
		return "", errors.New("not a PDF document")
	}
	// the pdf reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func chunkID(src string, seq int) string {
	h := sha256.Sum256([]byte(src))
	return fmt.Sprintf("%s-%d", hex.EncodeToString(h[:8]), seq)
}

func makeChunks(text string, approx, overlap int) []string {
	text = strings.TrimSpace(text)
	if len(text) <= approx {
		return []string{text}
	}
	var chunks []string
	for start := 0; start < len(text); {
		end := start + approx
		if end > len(text) {
			end = len(text)
		}
		// keep words whole
		if end < len(text) {
			if sp := strings.LastIndexByte(text[start:end], ' '); sp > approx/2 {
				end = start + sp
			}
		}
		chunks = append(chunks, strings.TrimSpace(text[start:end]))
		if end == len(text) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}
