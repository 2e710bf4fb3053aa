package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/terms-cli/internal/model"
	"github.com/sells-group/terms-cli/internal/store"
)

// batchHeader is the fixed 19-column layout of an output batch. Column order
// is a contract with the receiving system and must not change.
var batchHeader = []string{
	"product_code",
	"product_name",
	"coverage_code",
	"coverage_name",
	"detailed_coverage_code",
	"detailed_coverage_name",
	"detailed_coverage_template_code",
	"diagnosis_code",
	"exemption_code",
	"edi_code",
	"hospital_grade",
	"hospital_class",
	"accident_type",
	"admission_limit",
	"min_admission",
	"coverage_period",
	"confidence",
	"extracted_at",
	"ref_page",
}

// Batch describes one written output file.
type Batch struct {
	Path      string
	Rows      int
	ResultIDs []string
}

// WriteBatch assembles the next output batch: every auto-confirmed or
// approved result not yet exported, one CSV row per coverage item. Included
// results are marked exported, which freezes them.
func WriteBatch(ctx context.Context, st store.Store, exportDir string) (*Batch, error) {
	results, err := st.ListResults(ctx, store.ResultFilter{Unexported: true, Limit: 100_000})
	if err != nil {
		return nil, err
	}

	type rowKey struct {
		policyID     string
		benefitName  string
		templateName string
	}
	grouped := make(map[rowKey][]model.ExtractionResult)
	var order []rowKey
	for _, r := range results {
		if !r.Verification.OutputEligible() {
			continue
		}
		k := rowKey{r.PolicyID, r.Item.BenefitName, r.Item.TemplateName}
		if _, seen := grouped[k]; !seen {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], r)
	}
	if len(order) == 0 {
		return &Batch{}, nil
	}

	policies := make(map[string]*model.Policy)
	for _, k := range order {
		if _, ok := policies[k.policyID]; ok {
			continue
		}
		p, err := st.GetPolicy(ctx, k.policyID)
		if err != nil {
			return nil, err
		}
		policies[k.policyID] = p
	}

	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "pipeline: create export dir")
	}
	path := filepath.Join(exportDir, fmt.Sprintf("terms_batch_%s.csv", time.Now().UTC().Format("20060102T150405Z")))
	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: create batch %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(batchHeader); err != nil {
		return nil, eris.Wrap(err, "pipeline: write batch header")
	}

	batch := &Batch{Path: path}
	for _, k := range order {
		group := grouped[k]
		row, ids := buildRow(policies[k.policyID], group)
		if err := w.Write(row); err != nil {
			return nil, eris.Wrap(err, "pipeline: write batch row")
		}
		batch.Rows++
		batch.ResultIDs = append(batch.ResultIDs, ids...)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, eris.Wrap(err, "pipeline: flush batch")
	}
	if err := f.Sync(); err != nil {
		return nil, eris.Wrap(err, "pipeline: sync batch")
	}

	if err := st.MarkExported(ctx, batch.ResultIDs, time.Now().UTC()); err != nil {
		return nil, err
	}

	zap.L().Info("pipeline: batch written",
		zap.String("path", path),
		zap.Int("rows", batch.Rows),
		zap.Int("results", len(batch.ResultIDs)),
	)
	return batch, nil
}

// buildRow flattens one coverage item's eligible results into a single line.
// The row confidence is the minimum across its attributes; the timestamp is
// the latest extraction.
func buildRow(p *model.Policy, group []model.ExtractionResult) ([]string, []string) {
	item := group[0].Item

	values := make(map[model.Attribute]string, len(model.Attributes))
	minConf := -1.0
	var latest time.Time
	var refPages []string
	ids := make([]string, 0, len(group))

	for _, r := range group {
		value := r.RawValue
		if r.CanonicalCode != nil {
			value = *r.CanonicalCode
		}
		values[r.Attr] = value
		ids = append(ids, r.ID)

		if minConf < 0 || r.Confidence < minConf {
			minConf = r.Confidence
		}
		if r.ExtractedAt.After(latest) {
			latest = r.ExtractedAt
		}
		if r.Provenance.RefPage != "" {
			refPages = append(refPages, r.Provenance.RefPage)
		}
	}
	if minConf < 0 {
		minConf = 0
	}

	sort.Strings(refPages)
	refPages = dedupe(refPages)

	row := []string{
		p.ProductCode,
		p.ProductName,
		item.BenefitCode,
		item.BenefitName,
		item.SubBenefitCode,
		item.TemplateName,
		item.TemplateCode,
	}
	for _, attr := range model.Attributes {
		row = append(row, values[attr])
	}
	row = append(row,
		fmt.Sprintf("%.2f", minConf),
		latest.UTC().Format(time.RFC3339),
		strings.Join(refPages, ";"),
	)
	return row, ids
}

func dedupe(in []string) []string {
	out := in[:0]
	var prev string
	for i, s := range in {
		if i == 0 || s != prev {
			out = append(out, s)
		}
		prev = s
	}
	return out
}
