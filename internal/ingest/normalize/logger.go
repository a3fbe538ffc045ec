package normalize

import (
	"log"
	"time"
)

// LogRequest logs an upstream portal request being made.
func LogRequest(component, method, url string, params map[string]interface{}) {
	if len(params) > 0 {
		log.Printf("[%s] %s %s params=%v", component, method, url, params)
	} else {
		log.Printf("[%s] %s %s", component, method, url)
	}
}

// LogResponse logs an upstream portal response received.
func LogResponse(component string, statusCode int, duration time.Duration, rowCount int) {
	log.Printf("[%s] response status=%d duration=%dms rows=%d",
		component, statusCode, duration.Milliseconds(), rowCount)
}

// LogRetry logs a transient fetch failure and the computed backoff.
func LogRetry(component string, attempt int, backoff time.Duration, err error) {
	log.Printf("[%s] attempt %d failed (%v), retrying in %s", component, attempt, err, backoff)
}

// LogError logs an error from an ingestion operation.
func LogError(component, operation string, err error) {
	log.Printf("[%s] %s error: %v", component, operation, err)
}

// LogSkippedRow logs a row dropped by normalization.
func LogSkippedRow(component string, err error) {
	log.Printf("[%s] skipping row: %v", component, err)
}

// LogUpsert logs database upsert operations.
func LogUpsert(component string, inserted, updated int, duration time.Duration) {
	log.Printf("[%s] upserted %d inserted / %d updated in %dms",
		component, inserted, updated, duration.Milliseconds())
}
