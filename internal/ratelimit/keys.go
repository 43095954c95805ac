package ratelimit

import "fmt"

func inflightSetKey(campaignID string) string {
	return fmt.Sprintf("cadence:campaign:%s:inflight", campaignID)
}

func sendCapKey(campaignID string) string {
	return fmt.Sprintf("cadence:campaign:%s:send_cap", campaignID)
}
