package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *APIClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *APIClient) *Handlers {
	return &Handlers{client: client}
}

// HandleInitiatePayment starts a payment and returns the approval link.
func (h *Handlers) HandleInitiatePayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	recipient := req.GetString("recipient", "")
	if recipient == "" {
		return mcp.NewToolResultError("recipient is required"), nil
	}
	amount := req.GetString("amount", "")
	if amount == "" {
		return mcp.NewToolResultError("amount is required"), nil
	}

	body := map[string]any{"recipient": recipient, "amount": amount}
	if concept := req.GetString("concept", ""); concept != "" {
		body["concept"] = concept
	}
	if kind := req.GetString("kind", ""); kind != "" {
		body["kind"] = kind
	}

	raw, err := h.client.InitiatePayment(ctx, body)
	if err != nil {
		return toolError("Payment could not be started", err), nil
	}

	var init initiation
	if err := json.Unmarshal(raw, &init); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Payment of %s to %s is waiting for approval.\n"+
			"Debit: %s\n"+
			"Session key: %s\n\n"+
			"Ask the user to open this link and approve:\n%s\n\n"+
			"Then call finalize_payment with the session key.",
		amount, recipient, init.DebitAmount, init.SessionKey, init.AuthorizationURL)), nil
}

// HandleFinalizePayment completes an approved payment.
func (h *Handlers) HandleFinalizePayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := req.GetString("session_key", "")
	if key == "" {
		return mcp.NewToolResultError("session_key is required"), nil
	}

	raw, err := h.client.FinalizePayment(ctx, key)
	if err != nil {
		return toolError("Payment could not be finalized", err), nil
	}

	var resp struct {
		OutgoingPayment outgoingPayment `json:"outgoingPayment"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	return mcp.NewToolResultText(formatOutgoingPayment(resp.OutgoingPayment)), nil
}

// HandleSchedulePayment schedules a payment.
func (h *Handlers) HandleSchedulePayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body := map[string]any{
		"recipient": req.GetString("recipient", ""),
		"amount":    req.GetString("amount", ""),
		"triggerAt": req.GetString("trigger_at", ""),
	}
	for _, field := range []string{"recipient", "amount", "triggerAt"} {
		if body[field] == "" {
			return mcp.NewToolResultError(toolArg(field) + " is required"), nil
		}
	}
	if d := req.GetString("description", ""); d != "" {
		body["description"] = d
	}

	raw, err := h.client.SchedulePayment(ctx, body)
	if err != nil {
		return toolError("Payment could not be scheduled", err), nil
	}

	var resp struct {
		Task task `json:"task"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	return mcp.NewToolResultText("Scheduled.\n\n" + formatTask(resp.Task)), nil
}

// HandleListScheduledPayments lists every scheduled task.
func (h *Handlers) HandleListScheduledPayments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListScheduledPayments(ctx)
	if err != nil {
		return toolError("Failed to list scheduled payments", err), nil
	}

	var resp struct {
		Tasks []task `json:"tasks"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	if len(resp.Tasks) == 0 {
		return mcp.NewToolResultText("No scheduled payments."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d scheduled payment(s):\n", len(resp.Tasks))
	for _, t := range resp.Tasks {
		sb.WriteString("\n")
		sb.WriteString(formatTask(t))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListPendingApprovals lists tasks waiting for user approval.
func (h *Handlers) HandleListPendingApprovals(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListPendingApprovals(ctx)
	if err != nil {
		return toolError("Failed to list pending approvals", err), nil
	}

	var resp struct {
		Approvals []struct {
			TaskID           string `json:"taskId"`
			Recipient        string `json:"recipient"`
			Amount           string `json:"amount"`
			Description      string `json:"description"`
			AuthorizationURL string `json:"authorizationUrl"`
		} `json:"approvals"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	if len(resp.Approvals) == 0 {
		return mcp.NewToolResultText("No payments are waiting for approval."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d payment(s) waiting for approval:\n", len(resp.Approvals))
	for _, a := range resp.Approvals {
		fmt.Fprintf(&sb, "\n- %s: %s to %s (%s)\n  Approve at: %s\n",
			a.TaskID, a.Amount, a.Recipient, a.Description, a.AuthorizationURL)
	}
	sb.WriteString("\nAfter approval, call finalize_scheduled_payment with the task id.")
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleFinalizeScheduledPayment completes an approved scheduled payment.
func (h *Handlers) HandleFinalizeScheduledPayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("task_id", "")
	if id == "" {
		return mcp.NewToolResultError("task_id is required"), nil
	}

	raw, err := h.client.FinalizeScheduledPayment(ctx, id)
	if err != nil {
		return toolError("Scheduled payment could not be finalized", err), nil
	}

	var resp struct {
		OutgoingPayment outgoingPayment `json:"outgoingPayment"`
		Task            task            `json:"task"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	return mcp.NewToolResultText(formatOutgoingPayment(resp.OutgoingPayment) + "\n\n" + formatTask(resp.Task)), nil
}

// HandleCancelScheduledPayment cancels a pending task.
func (h *Handlers) HandleCancelScheduledPayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("task_id", "")
	if id == "" {
		return mcp.NewToolResultError("task_id is required"), nil
	}
	if _, err := h.client.CancelScheduledPayment(ctx, id); err != nil {
		return toolError("Scheduled payment could not be cancelled", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Scheduled payment %s cancelled.", id)), nil
}

// HandleListCauses lists donation causes.
func (h *Handlers) HandleListCauses(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListCauses(ctx)
	if err != nil {
		return toolError("Failed to list causes", err), nil
	}

	var resp struct {
		Causes []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			Description string `json:"description"`
			Goal        string `json:"goal"`
			Raised      string `json:"raised"`
			Progress    string `json:"progress"`
		} `json:"causes"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	if len(resp.Causes) == 0 {
		return mcp.NewToolResultText("No causes available."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d cause(s):\n", len(resp.Causes))
	for _, c := range resp.Causes {
		fmt.Fprintf(&sb, "\n- %s (%s): %s of %s raised (%s%%)\n", c.Name, c.ID, c.Raised, c.Goal, c.Progress)
		if c.Description != "" {
			fmt.Fprintf(&sb, "  %s\n", c.Description)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleDonate starts a donation.
func (h *Handlers) HandleDonate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	causeID := req.GetString("cause_id", "")
	if causeID == "" {
		return mcp.NewToolResultError("cause_id is required"), nil
	}
	amount := req.GetString("amount", "")
	if amount == "" {
		return mcp.NewToolResultError("amount is required"), nil
	}

	raw, err := h.client.Donate(ctx, causeID, amount)
	if err != nil {
		return toolError("Donation could not be started", err), nil
	}

	var resp struct {
		initiation
		Cause struct {
			Name string `json:"name"`
		} `json:"cause"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Donation of %s to %s is waiting for approval.\n"+
			"Session key: %s\n\n"+
			"Ask the user to open this link and approve:\n%s\n\n"+
			"Then call finalize_payment with the session key.",
		amount, resp.Cause.Name, resp.SessionKey, resp.AuthorizationURL)), nil
}

// HandleGetServerTime returns the server clock.
func (h *Handlers) HandleGetServerTime(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ServerTime(ctx)
	if err != nil {
		return toolError("Failed to get server time", err), nil
	}
	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// --- Formatting helpers ---

type amount struct {
	Value      string `json:"value"`
	AssetCode  string `json:"assetCode"`
	AssetScale int    `json:"assetScale"`
}

// String renders minor units as a decimal, e.g. {"15050","MXN",2} → "150.50 MXN".
func (a amount) String() string {
	if a.Value == "" {
		return "-"
	}
	v := a.Value
	if a.AssetScale > 0 {
		neg := strings.HasPrefix(v, "-")
		v = strings.TrimPrefix(v, "-")
		for len(v) <= a.AssetScale {
			v = "0" + v
		}
		v = v[:len(v)-a.AssetScale] + "." + v[len(v)-a.AssetScale:]
		if neg {
			v = "-" + v
		}
	}
	return strings.TrimSpace(v + " " + a.AssetCode)
}

type initiation struct {
	SessionKey       string `json:"sessionKey"`
	AuthorizationURL string `json:"authorizationUrl"`
	DebitAmount      amount `json:"debitAmount"`
}

type outgoingPayment struct {
	ID          string `json:"id"`
	Failed      bool   `json:"failed"`
	DebitAmount amount `json:"debitAmount"`
	SentAmount  amount `json:"sentAmount"`
}

func formatOutgoingPayment(op outgoingPayment) string {
	status := "sent"
	if op.Failed {
		status = "failed"
	}
	return fmt.Sprintf("Payment %s.\nOutgoing payment: %s\nDebited: %s", status, op.ID, op.DebitAmount)
}

type task struct {
	ID               string `json:"id"`
	Recipient        string `json:"recipient"`
	Amount           string `json:"amount"`
	Description      string `json:"description"`
	TriggerAt        string `json:"triggerAt"`
	State            string `json:"state"`
	AuthorizationURL string `json:"authorizationUrl"`
	Error            string `json:"error"`
}

func formatTask(t task) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "- %s [%s]: %s to %s at %s", t.ID, t.State, t.Amount, t.Recipient, t.TriggerAt)
	if t.Description != "" {
		fmt.Fprintf(&sb, " (%s)", t.Description)
	}
	sb.WriteString("\n")
	if t.AuthorizationURL != "" && t.State == "awaiting_approval" {
		fmt.Fprintf(&sb, "  Approve at: %s\n", t.AuthorizationURL)
	}
	if t.Error != "" {
		fmt.Fprintf(&sb, "  Error: %s\n", t.Error)
	}
	return sb.String()
}

// toolError turns API failures into tool errors. A grant the user has not
// approved yet gets a hint instead of a bare error.
func toolError(prefix string, err error) *mcp.CallToolResult {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Kind == "grant_not_finalized" {
		return mcp.NewToolResultError("The user has not approved the payment yet. Ask them to open the authorization link, then try again.")
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

func toolArg(field string) string {
	if field == "triggerAt" {
		return "trigger_at"
	}
	return field
}

func formatJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
