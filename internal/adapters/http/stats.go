package httpadapter

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
	"github.com/kirillkom/welfare-scheme-portal/internal/infrastructure/report/xlsx"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type statsResponse struct {
	Counts []domain.StatusCount `json:"counts"`
	Total  int64                `json:"total"`
}

func (rt *Router) stats(w http.ResponseWriter, r *http.Request) {
	counts, err := rt.reads.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := statsResponse{Counts: counts}
	for _, c := range counts {
		resp.Total += c.Count
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) exportStats(w http.ResponseWriter, r *http.Request) {
	counts, err := rt.reads.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	var buf bytes.Buffer
	if err := xlsx.WriteStats(&buf, counts, now); err != nil {
		writeError(w, fmt.Errorf("render stats workbook: %w", err))
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="application-stats-%s.xlsx"`, now.Format("20060102")))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
