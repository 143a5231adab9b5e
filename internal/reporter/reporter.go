package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/helmcloud/k8s-compliance-history/internal/storage"
)

const defaultAPIBase = "https://slack.com/api"

type Reporter struct {
	webhookURL string
	channel    string
	botToken   string
	apiBase    string
	client     *http.Client
	log        *zap.Logger
}

func New(webhookURL, channel, botToken string, log *zap.Logger) *Reporter {
	return &Reporter{
		webhookURL: webhookURL,
		channel:    channel,
		botToken:   botToken,
		apiBase:    defaultAPIBase,
		client:     &http.Client{Timeout: 30 * time.Second},
		log:        log.Named("reporter"),
	}
}

// CanUpload reports whether a bot token is configured for file uploads.
func (r *Reporter) CanUpload() bool {
	return r.botToken != ""
}

type slackMessage struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// SendSummary posts a plain text trend digest to the webhook.
func (r *Reporter) SendSummary(ctx context.Context, clusterName string, history []storage.ComplianceSummary) error {
	payload, err := json.Marshal(slackMessage{Channel: r.channel, Text: formatSlackMessage(clusterName, history)})
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	r.log.Debug("sending slack message", zap.Int("bytes", len(payload)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status code %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func formatSlackMessage(clusterName string, history []storage.ComplianceSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Compliance trend for %s*\n", clusterName)
	if len(history) == 0 {
		b.WriteString("No history was archived in this period.")
		return b.String()
	}
	for _, row := range history {
		rate := 100.0
		if row.NumPods > 0 {
			rate = float64(row.NumCompliantPods) / float64(row.NumPods) * 100
		}
		fmt.Fprintf(&b, "%s: %d/%d pods compliant (%.1f%%)\n", row.SavedDate, row.NumCompliantPods, row.NumPods, rate)
	}
	return strings.TrimRight(b.String(), "\n")
}

// SendReportWithPDF uploads the PDF at pdfPath to the channel.
func (r *Reporter) SendReportWithPDF(ctx context.Context, clusterName, pdfPath string) error {
	if r.botToken == "" {
		return fmt.Errorf("slack.bot_token is required to upload files")
	}
	return r.uploadFile(ctx, pdfPath, fmt.Sprintf("k8s-compliance-%s.pdf", clusterName))
}

func (r *Reporter) uploadFile(ctx context.Context, filePath, filename string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open PDF file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	// Step 1: Get upload URL
	uploadURL, fileID, err := r.getUploadURL(ctx, filepath.Base(filename), fileInfo.Size())
	if err != nil {
		return fmt.Errorf("failed to get upload URL: %w", err)
	}

	// Step 2: Upload file content
	if err := r.uploadFileContent(ctx, uploadURL, file); err != nil {
		return fmt.Errorf("failed to upload file content: %w", err)
	}

	// Step 3: Complete upload
	if err := r.completeUpload(ctx, fileID); err != nil {
		return fmt.Errorf("failed to complete upload: %w", err)
	}

	r.log.Info("uploaded report", zap.String("file", filename), zap.String("channel", r.channel))
	return nil
}

type slackResponse struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error"`
	UploadURL string `json:"upload_url"`
	FileID    string `json:"file_id"`
}

func (r *Reporter) callAPI(ctx context.Context, method string, form url.Values) (slackResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.apiBase+"/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return slackResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+r.botToken)

	resp, err := r.client.Do(req)
	if err != nil {
		return slackResponse{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var result slackResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return slackResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.OK {
		return slackResponse{}, fmt.Errorf("slack API error: %s", result.Error)
	}
	return result, nil
}

func (r *Reporter) getUploadURL(ctx context.Context, filename string, fileSize int64) (string, string, error) {
	result, err := r.callAPI(ctx, "files.getUploadURLExternal", url.Values{
		"filename": {filename},
		"length":   {fmt.Sprint(fileSize)},
	})
	if err != nil {
		return "", "", err
	}
	return result.UploadURL, result.FileID, nil
}

func (r *Reporter) uploadFileContent(ctx context.Context, uploadURL string, file *os.File) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, file)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (r *Reporter) completeUpload(ctx context.Context, fileID string) error {
	files, err := json.Marshal([]map[string]string{{"id": fileID, "title": "K8s Compliance Trend"}})
	if err != nil {
		return fmt.Errorf("failed to marshal files: %w", err)
	}
	_, err = r.callAPI(ctx, "files.completeUploadExternal", url.Values{
		"files":           {string(files)},
		"channel_id":      {r.channel},
		"initial_comment": {"Weekly Kubernetes compliance trend"},
	})
	return err
}
