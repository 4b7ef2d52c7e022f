// Package export flattens session transcripts into per-turn analytics
// records for tabular export.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/talentscout/interviewer/internal/interview"
)

// columns is the fixed header order. It is a compatibility surface for
// downstream reports; never reorder it.
var columns = []string{
	"turn_index",
	"role",
	"text",
	"sentiment",
	"quality",
	"technical_depth",
	"timestamp",
}

// Row is one flat record per transcript turn.
type Row struct {
	TurnIndex int
	Role      string
	Text      string
	// Score values are nil for unscored turns and render as empty cells.
	Sentiment      *float64
	Quality        *float64
	TechnicalDepth *float64
	Timestamp      time.Time
}

// Rows converts a session transcript into export rows in replay order.
func Rows(session *interview.Session) []Row {
	rows := make([]Row, 0, len(session.Transcript))
	for _, turn := range session.Transcript {
		row := Row{
			TurnIndex: turn.Index,
			Role:      string(turn.Role),
			Text:      turn.Text,
			Timestamp: turn.Timestamp,
		}
		if turn.Score != nil {
			sentiment, quality, depth := turn.Score.Sentiment, turn.Score.Quality, turn.Score.TechnicalDepth
			row.Sentiment = &sentiment
			row.Quality = &quality
			row.TechnicalDepth = &depth
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteCSV writes the header and rows in the fixed column order.
func WriteCSV(w io.Writer, rows []Row) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("write export header: %w", err)
	}

	for _, row := range rows {
		record := []string{
			strconv.Itoa(row.TurnIndex),
			row.Role,
			row.Text,
			formatScore(row.Sentiment),
			formatScore(row.Quality),
			formatScore(row.TechnicalDepth),
			row.Timestamp.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write export row %d: %w", row.TurnIndex, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush export: %w", err)
	}
	return nil
}

func formatScore(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 3, 64)
}
