package output

import (
	"encoding/json"
	"fmt"
	"os"

	"taskbridge/internal/health"
	"taskbridge/internal/models"
)

// Formatter defines the interface for output formatting
type Formatter interface {
	Connection(c *models.Connection, issues []string)
	ConnectionList(conns []models.Connection, title string)
	ConnectionBrief(c *models.Connection)
	Stats(s *health.Stats)
	ActivityList(events []models.Activity)
	Success(msg string)
	Error(err error)
	Info(msg string)
	KeyValue(key, value string)
	Section(title string)
	JSON(v interface{})
}

// TextFormatter outputs human-readable text
type TextFormatter struct{}

// JSONFormatter outputs JSON
type JSONFormatter struct{}

// New returns the appropriate formatter based on json flag
func New(jsonOutput bool) Formatter {
	if jsonOutput {
		return &JSONFormatter{}
	}
	return &TextFormatter{}
}

// TextFormatter implementations

func (f *TextFormatter) Connection(c *models.Connection, issues []string) {
	fmt.Printf("ID:         %d\n", c.ID)
	fmt.Printf("Project:    %d\n", c.ProjectID)
	fmt.Printf("Repository: %s\n", c.Repository)
	if c.RepositoryURL != "" {
		fmt.Printf("URL:        %s\n", c.RepositoryURL)
	}
	fmt.Printf("Status:     %s\n", c.Status)
	fmt.Printf("Webhook:    %s\n", c.WebhookStatus)
	if c.ErrorCount > 0 {
		fmt.Printf("Errors:     %d consecutive\n", c.ErrorCount)
	}
	if c.LastError != "" {
		fmt.Printf("Last error: %s\n", c.LastError)
	}
	if c.LastSyncAt != nil {
		fmt.Printf("Last sync:  %s\n", c.LastSyncAt.Format(models.DateTimeShortFormat))
	}
	if c.LastWebhookAt != nil {
		fmt.Printf("Last hook:  %s\n", c.LastWebhookAt.Format(models.DateTimeShortFormat))
	}
	for _, issue := range issues {
		fmt.Printf("  ! %s\n", issue)
	}
}

func (f *TextFormatter) ConnectionList(conns []models.Connection, title string) {
	if title != "" {
		fmt.Printf("%s (%d):\n", title, len(conns))
	}
	for _, c := range conns {
		f.ConnectionBrief(&c)
	}
}

func (f *TextFormatter) ConnectionBrief(c *models.Connection) {
	marker := " "
	switch c.Status {
	case models.ConnectionError:
		marker = "!"
	case models.ConnectionDisconnected:
		marker = "x"
	}
	lastSync := "never"
	if c.LastSyncAt != nil {
		lastSync = c.LastSyncAt.Format(models.DateTimeShortFormat)
	}
	fmt.Printf("%s [%d] %s - %s (webhook %s, last sync %s)\n",
		marker, c.ID, c.Repository, c.Status, c.WebhookStatus, lastSync)
}

func (f *TextFormatter) Stats(s *health.Stats) {
	fmt.Printf("Connections:    %d\n", s.Total)
	fmt.Printf("  Active:       %d\n", s.Active)
	fmt.Printf("  Error:        %d\n", s.Error)
	fmt.Printf("  Disconnected: %d\n", s.Disconnected)
	fmt.Printf("Webhooks OK:    %d\n", s.WebhookOK)
}

func (f *TextFormatter) ActivityList(events []models.Activity) {
	for _, e := range events {
		taskRef := ""
		if e.TaskID != nil {
			taskRef = fmt.Sprintf(" task %d", *e.TaskID)
		}
		fmt.Printf("%s  %-16s conn %d%s  %s\n",
			e.CreatedAt.Format(models.DateTimeShortFormat), e.Type, e.ConnectionID, taskRef, e.Description)
	}
}

func (f *TextFormatter) Success(msg string) {
	fmt.Println(msg)
}

func (f *TextFormatter) Error(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

func (f *TextFormatter) Info(msg string) {
	fmt.Println(msg)
}

func (f *TextFormatter) KeyValue(key, value string) {
	fmt.Printf("%s: %s\n", key, value)
}

func (f *TextFormatter) Section(title string) {
	fmt.Printf("\n%s:\n", title)
}

func (f *TextFormatter) JSON(v interface{}) {
	// TextFormatter doesn't output JSON, but provide fallback
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		f.Error(err)
		return
	}
	fmt.Println(string(data))
}

// JSONFormatter implementations

func (f *JSONFormatter) Connection(c *models.Connection, issues []string) {
	f.JSON(map[string]interface{}{
		"connection": c,
		"issues":     issues,
	})
}

func (f *JSONFormatter) ConnectionList(conns []models.Connection, title string) {
	f.JSON(map[string]interface{}{
		"count":       len(conns),
		"connections": conns,
	})
}

func (f *JSONFormatter) ConnectionBrief(c *models.Connection) {
	f.JSON(c)
}

func (f *JSONFormatter) Stats(s *health.Stats) {
	f.JSON(s)
}

func (f *JSONFormatter) ActivityList(events []models.Activity) {
	f.JSON(map[string]interface{}{
		"count":  len(events),
		"events": events,
	})
}

func (f *JSONFormatter) Success(msg string) {
	f.JSON(map[string]interface{}{"success": true, "message": msg})
}

func (f *JSONFormatter) Error(err error) {
	f.JSON(map[string]interface{}{"error": true, "message": err.Error()})
}

func (f *JSONFormatter) Info(msg string) {
	f.JSON(map[string]interface{}{"message": msg})
}

func (f *JSONFormatter) KeyValue(key, value string) {
	f.JSON(map[string]string{key: value})
}

func (f *JSONFormatter) Section(title string) {
	// JSON doesn't need section headers
}

func (f *JSONFormatter) JSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, `{"error": true, "message": "JSON marshal error: %s"}`+"\n", err.Error())
		return
	}
	fmt.Println(string(data))
}
