package salesforce

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/louisbranch/actionsync/internal/services/sync/crm"
)

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid object or field name %q", name)
	}
	return nil
}

var soqlEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\b", `\b`,
	"\f", `\f`,
)

// EscapeSOQL escapes value for a single quoted SOQL literal.
func EscapeSOQL(value string) string {
	return soqlEscaper.Replace(value)
}

// BuildQuery renders a SELECT with AND-ed equality conditions.
func BuildQuery(object string, where []crm.Match, fields []string) (string, error) {
	if err := checkName(object); err != nil {
		return "", err
	}
	selected := []string{"Id"}
	for _, field := range fields {
		if err := checkName(field); err != nil {
			return "", err
		}
		if !strings.EqualFold(field, "Id") {
			selected = append(selected, field)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(selected, ", "), object)
	for i, cond := range where {
		if err := checkName(cond.Field); err != nil {
			return "", err
		}
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s = '%s'", cond.Field, EscapeSOQL(cond.Value))
	}
	return b.String(), nil
}
