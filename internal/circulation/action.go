// internal/circulation/action.go
package circulation

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// actionTokens is the closed set of caller facing tokens. Labels coming from
// the operator screens ("Entrega Início operação", "Devolução término operação")
// are matched on their first word; API callers may send the kind name itself.
var actionTokens = map[string]EventKind{
	"DELIVER":            KindDeliver,
	"ENTREGA":            KindDeliver,
	"RETURN":             KindReturn,
	"DEVOLUCAO":          KindReturn,
	"SEND_FOR_REPAIR":    KindSendForRepair,
	"ENVIO":              KindSendForRepair,
	"RETURN_FROM_REPAIR": KindReturnFromRepair,
	"RETORNO":            KindReturnFromRepair,
	"REPORT_LOST":        KindReportLost,
	"EXTRAVIO":           KindReportLost,
	"EXTRAVIADO":         KindReportLost,
	"DEACTIVATE":         KindDeactivate,
	"INATIVO":            KindDeactivate,
	"INATIVAR":           KindDeactivate,
	"INATIVACAO":         KindDeactivate,
}

// ActionLabels are the labels offered on the operator screen, one per kind.
var ActionLabels = map[EventKind]string{
	KindDeliver:          "Entrega Início operação",
	KindReturn:           "Devolução término operação",
	KindSendForRepair:    "Envio Conserto",
	KindReturnFromRepair: "Retorno Conserto",
	KindReportLost:       "Coletor Extraviado",
	KindDeactivate:       "Coletor Inativo",
}

// leadingStems match the first word of a label by prefix.
var leadingStems = []struct {
	stem string
	kind EventKind
}{
	{"ENTREG", KindDeliver},
	{"DEVOLU", KindReturn},
	{"ENVIO", KindSendForRepair},
	{"RETORNO", KindReturnFromRepair},
}

// anywhereStems match any word of a label by prefix, so "Coletor Extraviado"
// and "Coletor Inativo" resolve.
var anywhereStems = []struct {
	stem string
	kind EventKind
}{
	{"EXTRAVI", KindReportLost},
	{"INATIV", KindDeactivate},
}

// ParseAction maps a free text action label to its event kind. Matching is
// case and accent insensitive: the whole label, then its first word against
// the token table, then the stems. Unknown labels are rejected.
func ParseAction(label string) (EventKind, error) {
	folded := foldLabel(label)
	if folded == "" {
		return 0, reject(CodeUnknownAction, "an action must be selected")
	}
	if k, ok := actionTokens[strings.ReplaceAll(folded, " ", "_")]; ok {
		return k, nil
	}
	words := strings.Fields(folded)
	if k, ok := actionTokens[words[0]]; ok {
		return k, nil
	}
	for _, s := range leadingStems {
		if strings.HasPrefix(words[0], s.stem) {
			return s.kind, nil
		}
	}
	for _, word := range words {
		for _, s := range anywhereStems {
			if strings.HasPrefix(word, s.stem) {
				return s.kind, nil
			}
		}
	}
	return 0, rejectf(CodeUnknownAction, "unrecognized action: %s", strings.TrimSpace(label))
}

func foldLabel(label string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, label)
	if err != nil {
		folded = label
	}
	folded = strings.ToUpper(strings.TrimSpace(folded))
	return strings.ReplaceAll(folded, "-", "_")
}
