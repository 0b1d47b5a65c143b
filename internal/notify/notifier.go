package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Notifier delivers assignment events to workers. Delivery is fire-and-forget
// from the engine's perspective: a failed notification never fails the
// allocation that triggered it.
type Notifier interface {
	NotifyAssignee(ctx context.Context, candidateID, caseID string) error
	NudgeAssignee(ctx context.Context, candidateID, caseID string) error
}

type LogNotifier struct{}

func (LogNotifier) NotifyAssignee(_ context.Context, candidateID, caseID string) error {
	log.Printf("notify: case %s assigned to %s", caseID, candidateID)
	return nil
}

func (LogNotifier) NudgeAssignee(_ context.Context, candidateID, caseID string) error {
	log.Printf("notify: nudging %s about pending case %s", candidateID, caseID)
	return nil
}

type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

type webhookEvent struct {
	Event       string `json:"event"`
	CandidateID string `json:"candidate_id"`
	CaseID      string `json:"case_id"`
	SentAt      string `json:"sent_at"`
}

func (n *WebhookNotifier) NotifyAssignee(ctx context.Context, candidateID, caseID string) error {
	return n.post(ctx, webhookEvent{Event: "case_allocated", CandidateID: candidateID, CaseID: caseID})
}

func (n *WebhookNotifier) NudgeAssignee(ctx context.Context, candidateID, caseID string) error {
	return n.post(ctx, webhookEvent{Event: "acceptance_nudge", CandidateID: candidateID, CaseID: caseID})
}

func (n *WebhookNotifier) post(ctx context.Context, ev webhookEvent) error {
	ev.SentAt = time.Now().UTC().Format(time.RFC3339)
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned %d", resp.StatusCode)
	}
	return nil
}
