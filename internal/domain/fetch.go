package domain

// FetchRequest describes the data an ingestion run asks a source for.
// File-backed sources ignore everything but the kind of records they return.
type FetchRequest struct {
	Region    Region
	DateRange DateRange
}

// FetchStatus tags the outcome of a source fetch.
type FetchStatus int

const (
	FetchOK FetchStatus = iota
	FetchFailed
)

func (s FetchStatus) String() string {
	if s == FetchOK {
		return "ok"
	}
	return "failed"
}

// FetchResult is what a source returns. The pipeline decides on fallback from
// Status alone, never from inspecting the records.
type FetchResult struct {
	Status  FetchStatus
	Records []RawRecord
	// Reason explains a FetchFailed status.
	Reason string
}

// FetchSucceeded wraps records in an OK result.
func FetchSucceeded(records []RawRecord) FetchResult {
	return FetchResult{Status: FetchOK, Records: records}
}

// FetchFailure builds a failed result with a reason.
func FetchFailure(reason string) FetchResult {
	return FetchResult{Status: FetchFailed, Reason: reason}
}
