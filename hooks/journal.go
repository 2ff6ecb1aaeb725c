package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/lafkit/laf/family"
	"github.com/lafkit/laf/request"
)

// Entry is one journal record: the identity and payload of a request at one
// step of its lifecycle.
type Entry struct {
	AuthUserID    string `json:"authuser_id"`
	UserID        string `json:"user_id"`
	Role          string `json:"role"`
	RequestID     string `json:"request_id"`
	TransactionID string `json:"transaction_id"`
	Step          string `json:"step"`
	Host          string `json:"host"`
	LoneFam       string `json:"lonefam"`
	Lone          string `json:"lone"`
	Verb          string `json:"verb"`
	LonePK        string `json:"lonepk"`
	Payload       any    `json:"payload"`
	Date          string `json:"date"`
	CM            string `json:"cm"`
}

// NewEntry builds the journal record of one request step.
func NewEntry(req *request.Request, cfg *family.Config, step string, payload any) *Entry {
	hostname, _ := os.Hostname()

	return &Entry{
		AuthUserID:    req.User,
		UserID:        req.EffectiveUser,
		Role:          req.Role,
		RequestID:     req.RqID,
		TransactionID: req.TxID,
		Step:          step,
		Host:          hostname,
		LoneFam:       cfg.Family + "/" + cfg.Deployment,
		Lone:          cfg.Family + "/" + req.Lone,
		Verb:          req.Verb,
		LonePK:        req.PK,
		Payload:       payload,
		Date:          time.Now().Format("2006-1-2 15:4:5"),
		CM:            req.CM,
	}
}

// JournalClient writes journal records to the journal service and reads the
// status of long-running requests back.
type JournalClient struct {
	http *http.Client
}

// NewJournalClient returns a client for the journal service at the given
// unix socket path.
func NewJournalClient(socketPath string) *JournalClient {
	return &JournalClient{http: httpClient(socketPath)}
}

// Write posts one record to /<request_id>/<step>.
func (c *JournalClient) Write(ctx context.Context, entry *Entry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("hooks: encode journal entry: %w", err)
	}

	url := fmt.Sprintf("http://unix/%s/%s", entry.RequestID, entry.Step)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("hooks: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")

	reply, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("hooks: journal service: %w", err)
	}
	reply.Body.Close()

	return nil
}

// Status reads the state of a request from /<rqid>. While the request is
// still running the journal answers 102 and the status is "Task in
// progress"; afterwards the journal's status field is returned with the
// reply code.
func (c *JournalClient) Status(ctx context.Context, rqid string) (any, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix/"+rqid, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("hooks: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	reply, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("hooks: journal service: %w", err)
	}
	defer reply.Body.Close()

	if reply.StatusCode == http.StatusProcessing {
		return "Task in progress", reply.StatusCode, nil
	}

	var out struct {
		Status any `json:"status"`
	}
	if err := json.NewDecoder(reply.Body).Decode(&out); err != nil {
		return nil, 0, fmt.Errorf("hooks: decode journal status: %w", err)
	}

	return out.Status, reply.StatusCode, nil
}

// LocalJournal writes journal records through the journal command-line
// binary, used in lone mode where no journal service runs. The record goes
// to the subprocess as one length-prefixed JSON frame on stdin.
type LocalJournal struct {
	Binary    string
	Primary   string
	Secondary string
	AdminID   string
}

// Write runs the journal binary with one record.
func (j *LocalJournal) Write(ctx context.Context, entry *Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("hooks: encode journal entry: %w", err)
	}

	var frame bytes.Buffer
	if err := writeFrame(&frame, payload); err != nil {
		return err
	}

	args := make([]string, 0, 6)
	if j.Primary != "" {
		args = append(args, "--primary", j.Primary)
	}
	if j.Secondary != "" {
		args = append(args, "--secondary", j.Secondary)
	}
	args = append(args, "--adminproid", j.AdminID)

	cmd := exec.CommandContext(ctx, j.Binary, args...)
	cmd.Stdin = &frame
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("hooks: journal binary: %w: %s", err, out)
	}

	return nil
}
