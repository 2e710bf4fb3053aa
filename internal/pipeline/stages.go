package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/terms-cli/internal/config"
	"github.com/sells-group/terms-cli/internal/model"
)

// SourceDocument is one acquired policy plus its coverage schedule.
type SourceDocument struct {
	Policy model.Policy
	Items  []model.CoverageItem
}

// Acquirer pulls policy documents from the source system.
type Acquirer interface {
	Acquire(ctx context.Context, productType string) ([]SourceDocument, error)
}

// Preprocessor turns a stored policy document into extraction-ready text.
// reference carries the curated appendix/schedule material when available.
type Preprocessor interface {
	Preprocess(ctx context.Context, p *model.Policy) (text, reference string, err error)
}

// Indexer makes a preprocessed document retrievable. The default recorder
// only counts; a search backend can be dropped in without touching the
// orchestrator.
type Indexer interface {
	Index(ctx context.Context, p *model.Policy, text string) error
}

// fsAcquirer reads JSON manifests from a source directory and copies the
// referenced documents into the working document directory.
type fsAcquirer struct {
	cfg config.PipelineConfig
}

// NewFSAcquirer returns the filesystem-backed default acquirer.
func NewFSAcquirer(cfg config.PipelineConfig) Acquirer {
	return &fsAcquirer{cfg: cfg}
}

type sourceManifest struct {
	ProductCode string               `json:"product_code"`
	ProductName string               `json:"product_name"`
	ProductType string               `json:"product_type,omitempty"`
	Version     string               `json:"version,omitempty"`
	SourceURL   string               `json:"source_url,omitempty"`
	Document    string               `json:"document"`
	Items       []model.CoverageItem `json:"items"`
}

func (a *fsAcquirer) Acquire(ctx context.Context, productType string) ([]SourceDocument, error) {
	entries, err := os.ReadDir(a.cfg.SourceDir)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read source dir %s", a.cfg.SourceDir)
	}

	var docs []SourceDocument
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(filepath.Join(a.cfg.SourceDir, e.Name()))
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: read manifest %s", e.Name())
		}
		var m sourceManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, eris.Wrapf(err, "pipeline: parse manifest %s", e.Name())
		}
		if productType != "" && m.ProductType != productType {
			continue
		}
		if m.Document == "" || len(m.Items) == 0 {
			zap.L().Warn("pipeline: manifest incomplete, skipping", zap.String("manifest", e.Name()))
			continue
		}

		ref := filepath.Base(m.Document)
		if err := copyFile(filepath.Join(a.cfg.SourceDir, m.Document), filepath.Join(a.cfg.DocumentDir, ref)); err != nil {
			return nil, err
		}
		// Extracted-text sidecars travel with the document when present.
		for _, suffix := range []string{".txt", ".appendix.txt"} {
			src := filepath.Join(a.cfg.SourceDir, m.Document+suffix)
			if _, statErr := os.Stat(src); statErr == nil {
				if err := copyFile(src, filepath.Join(a.cfg.DocumentDir, ref+suffix)); err != nil {
					return nil, err
				}
			}
		}

		docs = append(docs, SourceDocument{
			Policy: model.Policy{
				ProductCode: m.ProductCode,
				ProductName: m.ProductName,
				ProductType: m.ProductType,
				Version:     m.Version,
				SourceURL:   m.SourceURL,
				DocumentRef: ref,
				Status:      model.PolicyStatusCollected,
			},
			Items: m.Items,
		})
	}

	zap.L().Info("pipeline: acquisition complete", zap.Int("documents", len(docs)))
	return docs, nil
}

// fsPreprocessor reads extracted-text sidecars next to the stored document:
// "<ref>.txt" for the body, "<ref>.appendix.txt" for the schedule material.
// A plain-text document is its own body.
type fsPreprocessor struct {
	documentDir string
}

// NewFSPreprocessor returns the sidecar-reading default preprocessor.
func NewFSPreprocessor(cfg config.PipelineConfig) Preprocessor {
	return &fsPreprocessor{documentDir: cfg.DocumentDir}
}

func (p *fsPreprocessor) Preprocess(_ context.Context, pol *model.Policy) (string, string, error) {
	base := filepath.Join(p.documentDir, pol.DocumentRef)

	var text []byte
	var err error
	if strings.HasSuffix(pol.DocumentRef, ".txt") {
		text, err = os.ReadFile(base)
	} else {
		text, err = os.ReadFile(base + ".txt")
	}
	if err != nil {
		return "", "", eris.Wrapf(err, "pipeline: no extracted text for %s", pol.DocumentRef)
	}

	reference, err := os.ReadFile(base + ".appendix.txt")
	if err != nil && !os.IsNotExist(err) {
		return "", "", eris.Wrapf(err, "pipeline: read appendix for %s", pol.DocumentRef)
	}
	return string(text), string(reference), nil
}

// recordingIndexer is the default Indexer: it records the document length and
// does nothing else.
type recordingIndexer struct{}

// NewRecordingIndexer returns the no-op default indexer.
func NewRecordingIndexer() Indexer {
	return recordingIndexer{}
}

func (recordingIndexer) Index(_ context.Context, p *model.Policy, text string) error {
	zap.L().Debug("pipeline: indexed document",
		zap.String("policy_id", p.ID),
		zap.Int("chars", len(text)),
	)
	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return eris.Wrap(err, "pipeline: create document dir")
	}

	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "pipeline: open %s", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return eris.Wrapf(err, "pipeline: create %s", dst)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return eris.Wrapf(err, "pipeline: copy %s", src)
	}
	return nil
}
