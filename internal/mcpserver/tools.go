package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the interpay MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolInitiatePayment = mcp.NewTool("initiate_payment",
	mcp.WithDescription(
		"Start a payment from the configured sender wallet to an Open Payments wallet address. "+
			"Returns an authorization URL the user must open to approve the payment, and a session key. "+
			"After the user approves, call finalize_payment with the session key."),
	mcp.WithString("recipient",
		mcp.Required(),
		mcp.Description("Recipient wallet address, as a URL or payment pointer (e.g. '$ilp.interledger-test.dev/bob')")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount in major units of the recipient's asset (e.g. '150.50')")),
	mcp.WithString("concept",
		mcp.Description("Short description shown on the payment")),
	mcp.WithString("kind",
		mcp.Description("Where the request came from"),
		mcp.Enum("transfer", "voice")),
)

var ToolFinalizePayment = mcp.NewTool("finalize_payment",
	mcp.WithDescription(
		"Complete a payment the user has approved. "+
			"If the user has not approved yet, the payment stays pending and this can be called again."),
	mcp.WithString("session_key",
		mcp.Required(),
		mcp.Description("Session key returned by initiate_payment or donate")),
)

var ToolSchedulePayment = mcp.NewTool("schedule_payment",
	mcp.WithDescription(
		"Schedule a payment for a future time. At that time the server requests the grant and the "+
			"task appears in list_pending_approvals with an authorization URL. "+
			"Call get_server_time first to compute relative times."),
	mcp.WithString("recipient",
		mcp.Required(),
		mcp.Description("Recipient wallet address")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount in major units (e.g. '200')")),
	mcp.WithString("trigger_at",
		mcp.Required(),
		mcp.Description("When to pay: RFC 3339 timestamp, or local time 'YYYY-MM-DDTHH:MM' in the server time zone")),
	mcp.WithString("description",
		mcp.Description("Optional description for the payment")),
)

var ToolListScheduledPayments = mcp.NewTool("list_scheduled_payments",
	mcp.WithDescription("List every scheduled payment with its state (pending, awaiting_approval, completed, error)."),
)

var ToolListPendingApprovals = mcp.NewTool("list_pending_approvals",
	mcp.WithDescription(
		"List scheduled payments that reached their time and wait for the user to approve them. "+
			"Each has an authorization URL for the user."),
)

var ToolFinalizeScheduledPayment = mcp.NewTool("finalize_scheduled_payment",
	mcp.WithDescription("Complete a scheduled payment the user has approved."),
	mcp.WithString("task_id",
		mcp.Required(),
		mcp.Description("Scheduled task id")),
)

var ToolCancelScheduledPayment = mcp.NewTool("cancel_scheduled_payment",
	mcp.WithDescription("Cancel a scheduled payment that has not been triggered yet."),
	mcp.WithString("task_id",
		mcp.Required(),
		mcp.Description("Scheduled task id")),
)

var ToolListCauses = mcp.NewTool("list_causes",
	mcp.WithDescription("List donation causes with their goal, amount raised and progress."),
)

var ToolDonate = mcp.NewTool("donate",
	mcp.WithDescription(
		"Start a donation to a cause from list_causes. Like initiate_payment, the user must approve "+
			"it at the returned URL before calling finalize_payment."),
	mcp.WithString("cause_id",
		mcp.Required(),
		mcp.Description("Cause id (e.g. 'cruz-roja')")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount to donate in major units")),
)

var ToolGetServerTime = mcp.NewTool("get_server_time",
	mcp.WithDescription("Get the server's current time and scheduling time zone."),
)
