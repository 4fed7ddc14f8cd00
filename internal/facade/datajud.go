package facade

import (
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"datajud-gateway/internal/model"
)

// DataJud timestamps come in several shapes depending on the tribunal.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"20060102150405",
	"2006-01-02",
}

// normalizeProcessNumber strips the CNJ mask (NNNNNNN-DD.AAAA.J.TR.OOOO).
func normalizeProcessNumber(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

func buildQuery(number string) ([]byte, error) {
	return sjson.SetBytes([]byte(`{}`), "query.match.numeroProcesso", number)
}

func decodeSearch(body []byte) *model.SearchResult {
	root := gjson.ParseBytes(body)
	res := &model.SearchResult{
		Total:     root.Get("hits.total.value").Int(),
		Processes: []model.Process{},
	}

	root.Get("hits.hits.#._source").ForEach(func(_, src gjson.Result) bool {
		res.Processes = append(res.Processes, decodeProcess(src))
		return true
	})
	if res.Total < int64(len(res.Processes)) {
		res.Total = int64(len(res.Processes))
	}
	return res
}

func decodeProcess(src gjson.Result) model.Process {
	p := model.Process{
		Number:        src.Get("numeroProcesso").String(),
		Tribunal:      src.Get("tribunal").String(),
		Class:         src.Get("classe.nome").String(),
		Court:         src.Get("orgaoJulgador.nome").String(),
		FiledAt:       parseTime(src.Get("dataAjuizamento").String()),
		LastUpdatedAt: parseTime(src.Get("dataHoraUltimaAtualizacao").String()),
	}
	for _, s := range src.Get("assuntos.#.nome").Array() {
		p.Subjects = append(p.Subjects, s.String())
	}
	src.Get("movimentos").ForEach(func(_, m gjson.Result) bool {
		p.Movements = append(p.Movements, model.Movement{
			Name: m.Get("nome").String(),
			At:   parseTime(m.Get("dataHora").String()),
		})
		return true
	})
	// Newest first.
	sort.SliceStable(p.Movements, func(i, j int) bool {
		return p.Movements[i].At.After(p.Movements[j].At)
	})
	return p
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
