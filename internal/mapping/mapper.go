package mapping

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/sells-group/terms-cli/internal/model"
	"github.com/sells-group/terms-cli/internal/resilience"
)

// Mapper resolves raw extracted values to canonical classification codes via
// range lookup over the loaded tables. Lookups are read-only and safe for
// concurrent use; Reload swaps the whole table set atomically.
type Mapper struct {
	mu     sync.RWMutex
	tables []Table
}

// NewMapper creates an empty mapper. Call Reload before mapping.
func NewMapper() *Mapper {
	return &Mapper{}
}

// Reload reads dir and replaces the current tables with its contents. Tables
// absent from dir are gone after the reload; nothing is merged. Overlapping
// ranges are reported at load time so the first ambiguous lookup is not the
// first notice.
func (m *Mapper) Reload(dir string) error {
	tables, err := loadDir(dir)
	if err != nil {
		return err
	}

	for _, t := range tables {
		for _, pair := range overlaps(t) {
			zap.L().Warn("mapping: table has overlapping ranges",
				zap.String("table", t.Name),
				zap.String("code_a", pair[0].Code),
				zap.String("code_b", pair[1].Code),
			)
		}
	}

	m.mu.Lock()
	m.tables = tables
	m.mu.Unlock()

	zap.L().Info("mapping: tables loaded", zap.String("dir", dir), zap.Int("tables", len(tables)))
	return nil
}

// Tables returns the names of the loaded tables.
func (m *Mapper) Tables() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, len(m.tables))
	for i, t := range m.tables {
		names[i] = t.Name
	}
	return names
}

// Map resolves raw to a canonical code for the given attribute. A nil code
// with nil error means no table applies or no row matched; the raw value
// passes through unmapped. When overlapping rows match, the first row in
// table order wins and the returned error is an AmbiguousMappingError the
// caller should record as a warning alongside the code.
func (m *Mapper) Map(spec *model.AttributeSpec, raw string) (*string, error) {
	value := strings.TrimSpace(raw)
	if value == "" || len(spec.MappingPatterns) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []Row
	for _, t := range m.tables {
		if !tableMatches(t.Name, spec.MappingPatterns) {
			continue
		}
		for _, row := range t.Rows {
			if inRange(value, row, spec.Numeric) {
				matched = append(matched, row)
			}
		}
	}

	switch len(matched) {
	case 0:
		return nil, nil
	case 1:
		code := matched[0].Code
		return &code, nil
	default:
		code := matched[0].Code
		return &code, &resilience.AmbiguousMappingError{
			AttributeType: string(spec.Key),
			CodeA:         matched[0].Code,
			CodeB:         matched[1].Code,
		}
	}
}

// ContextFor renders the tables selected by spec's patterns as prompt
// context, capped per table so a large table cannot crowd out the document.
func (m *Mapper) ContextFor(spec *model.AttributeSpec) string {
	if len(spec.MappingPatterns) == 0 {
		return ""
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	const maxRows = 200
	var b strings.Builder
	for _, t := range m.tables {
		if !tableMatches(t.Name, spec.MappingPatterns) {
			continue
		}
		fmt.Fprintf(&b, "### %s\n", t.Name)
		for i, row := range t.Rows {
			if i == maxRows {
				fmt.Fprintf(&b, "... (%d more rows)\n", len(t.Rows)-maxRows)
				break
			}
			if row.Start == row.End {
				fmt.Fprintf(&b, "- %s: %s (%s)\n", row.Code, row.Start, row.Label)
			} else {
				fmt.Fprintf(&b, "- %s: %s-%s (%s)\n", row.Code, row.Start, row.End, row.Label)
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func tableMatches(name string, patterns []string) bool {
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// inRange reports whether value falls inside row's inclusive range under the
// attribute's comparison mode.
func inRange(value string, row Row, numeric bool) bool {
	return compareCodes(row.Start, value, numeric) <= 0 &&
		compareCodes(value, row.End, numeric) <= 0
}

// compareCodes orders two codes. Numeric attributes compare as integers.
// Alphanumeric clinical codes compare by letter prefix first, then by the
// numeric remainder, so C9 sorts before C34 and C00 <= C34 <= C97 holds.
func compareCodes(a, b string, numeric bool) int {
	a = strings.ToUpper(strings.TrimSpace(a))
	b = strings.ToUpper(strings.TrimSpace(b))

	if numeric {
		an, aok := parseInt(a)
		bn, bok := parseInt(b)
		if aok && bok {
			return compare(an, bn)
		}
		return strings.Compare(a, b)
	}

	aPrefix, aNum := splitCode(a)
	bPrefix, bNum := splitCode(b)
	if c := strings.Compare(aPrefix, bPrefix); c != 0 {
		return c
	}
	return compare(aNum, bNum)
}

// splitCode separates a clinical code into its letter prefix and numeric
// body, ignoring a sub-code suffix after a dot (C34.1 ranks as C34).
func splitCode(code string) (string, int) {
	if i := strings.IndexByte(code, '.'); i >= 0 {
		code = code[:i]
	}

	var prefix strings.Builder
	rest := code
	for i, r := range code {
		if !unicode.IsLetter(r) {
			rest = code[i:]
			break
		}
		prefix.WriteRune(r)
		rest = ""
	}

	n, _ := parseInt(rest)
	return prefix.String(), n
}

func parseInt(s string) (int, bool) {
	var digits strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0, false
	}
	return n, true
}

func compare(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// overlaps finds row pairs within a table whose ranges intersect.
func overlaps(t Table) [][2]Row {
	var pairs [][2]Row
	for i := 0; i < len(t.Rows); i++ {
		for j := i + 1; j < len(t.Rows); j++ {
			a, b := t.Rows[i], t.Rows[j]
			if compareCodes(a.Start, b.End, false) <= 0 && compareCodes(b.Start, a.End, false) <= 0 {
				pairs = append(pairs, [2]Row{a, b})
			}
		}
	}
	return pairs
}
