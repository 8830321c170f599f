package domain

import "fmt"

// ConsistencyReport compara duas formas independentes de calcular "tokens usados".
// Overshoot são os tokens acima do limite, possíveis só via Record; contam
// do lado derivado porque Remaining satura em 0.
type ConsistencyReport struct {
	Purpose           string       `json:"purpose"`
	Subject           Subject      `json:"subject"`
	Key               string       `json:"key"`
	NowMillis         int64        `json:"now"`
	WindowStartMillis int64        `json:"window_start"`
	Limit             int          `json:"limit"`
	Remaining         int          `json:"remaining"`
	ResetAtMillis     int64        `json:"reset_at"`
	DirectCount       int64        `json:"direct_count"`
	DerivedUsed       int64        `json:"derived_used"`
	Overshoot         int64        `json:"overshoot,omitempty"`
	Match             bool         `json:"match"`
	StoredEntries     int          `json:"stored_entries"`
	KeyTTLMillis      int64        `json:"key_ttl_ms"`
	Entries           []TokenEntry `json:"entries,omitempty"`
	Error             string       `json:"error,omitempty"`
}

// Mismatch devolve um *MismatchError quando as contagens divergem, senão nil.
func (r ConsistencyReport) Mismatch() error {
	if r.Match || r.Error != "" {
		return nil
	}
	return &MismatchError{Report: r}
}

type MismatchError struct {
	Report ConsistencyReport
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("consistency mismatch for %s: direct=%d derived=%d overshoot=%d",
		e.Report.Key, e.Report.DirectCount, e.Report.DerivedUsed, e.Report.Overshoot)
}

func (e *MismatchError) Unwrap() error { return ErrConsistencyMismatch }

// ResetResult é o resultado do reset de um limiter num reset em lote.
type ResetResult struct {
	Limiter string `json:"limiter"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

type ResetSummary struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

func SummarizeResets(results []ResetResult) ResetSummary {
	sum := ResetSummary{Total: len(results)}
	for _, r := range results {
		if r.Error == "" {
			sum.Successful++
		} else {
			sum.Failed++
		}
	}
	return sum
}
