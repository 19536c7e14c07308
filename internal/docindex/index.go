package docindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/harunnryd/chatloop/internal/config"
	"github.com/harunnryd/chatloop/internal/tool"

	"github.com/philippgille/chromem-go"
)

const (
	metaFile  = "file"
	metaChunk = "chunk"
)

// Embedder turns text into a vector. The model router satisfies it.
type Embedder interface {
	RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error)
}

// Index is a persistent chromem collection of file chunks.
type Index struct {
	db        *chromem.DB
	col       *chromem.Collection
	chunkSize int
}

// Open loads or creates the collection under cfg.Path. An empty path keeps
// the index in memory.
func Open(cfg config.DocumentsToolConfig, embedder Embedder, model string) (*Index, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}

	var (
		db  *chromem.DB
		err error
	)
	if strings.TrimSpace(cfg.Path) == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("open document index: %w", err)
		}
	}

	name := cfg.Collection
	if name == "" {
		name = config.DefaultDocumentsCollection
	}
	embed := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.RouteEmbedding(ctx, model, text)
	}
	col, err := db.GetOrCreateCollection(name, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", name, err)
	}

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = config.DefaultDocumentsChunkSize
	}

	return &Index{db: db, col: col, chunkSize: chunkSize}, nil
}

func (i *Index) Count() int {
	return i.col.Count()
}

// Search returns at most top chunks ranked by similarity to query.
func (i *Index) Search(ctx context.Context, query string, top int) ([]tool.DocumentHit, error) {
	count := i.col.Count()
	if count == 0 || top <= 0 {
		return nil, nil
	}
	if top > count {
		top = count
	}

	results, err := i.col.Query(ctx, query, top, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	hits := make([]tool.DocumentHit, 0, len(results))
	for _, r := range results {
		chunk, _ := strconv.Atoi(r.Metadata[metaChunk])
		hits = append(hits, tool.DocumentHit{
			ID:      r.ID,
			File:    r.Metadata[metaFile],
			Chunk:   chunk,
			Content: r.Content,
			Score:   r.Similarity,
		})
	}
	return hits, nil
}

// AddText chunks text and upserts every chunk under file. Re-adding the same
// file replaces chunks with the same position and content.
func (i *Index) AddText(ctx context.Context, file, text string) (int, error) {
	chunks := Chunk(text, i.chunkSize)
	if len(chunks) == 0 {
		return 0, nil
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for n, c := range chunks {
		docs = append(docs, chromem.Document{
			ID:       chunkID(file, n, c),
			Metadata: map[string]string{metaFile: file, metaChunk: strconv.Itoa(n)},
			Content:  c,
		})
	}
	if err := i.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return 0, fmt.Errorf("index %s: %w", file, err)
	}
	return len(docs), nil
}

// AddPath indexes a file, or every .md and .txt file below a directory.
func (i *Index) AddPath(ctx context.Context, root string) (int, error) {
	info, err := os.Stat(root)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return i.addFile(ctx, root)
	}

	total := 0
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !indexable(path) {
			return nil
		}
		n, err := i.addFile(ctx, path)
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	return total, err
}

func (i *Index) addFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n, err := i.AddText(ctx, filepath.Base(path), string(data))
	if err != nil {
		return 0, err
	}
	slog.Debug("Indexed document", "file", path, "chunks", n)
	return n, nil
}

func indexable(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".txt":
		return true
	}
	return false
}

func chunkID(file string, n int, content string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d\x00%s", file, n, content)))
	return hex.EncodeToString(sum[:8])
}

// Chunk splits text on blank lines into pieces of at most size runes,
// merging short paragraphs and hard-splitting long ones.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = config.DefaultDocumentsChunkSize
	}

	var (
		out     []string
		current strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			out = append(out, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		runes := []rune(para)
		if len(runes) > size {
			flush()
			for len(runes) > 0 {
				n := size
				if n > len(runes) {
					n = len(runes)
				}
				out = append(out, strings.TrimSpace(string(runes[:n])))
				runes = runes[n:]
			}
			continue
		}
		if current.Len() > 0 && len([]rune(current.String()))+2+len(runes) > size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return out
}
