package router

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"megabuddies/internal/broadcast"
	"megabuddies/internal/whitelist"
	logx "megabuddies/pkg/logx"
)

func (r *Router) buildCommands() []*Command {
	return []*Command{
		{Name: "start", Description: "Start the bot", Access: AccessEveryone, Handle: r.handleStart},
		{Name: "help", Description: "Show available commands", Access: AccessEveryone, Handle: r.handleHelp},
		{Name: "check", Description: "Check a value against the whitelist", Usage: "/check <value>", Access: AccessEveryone, Handle: r.handleCheck},
		{Name: "add", Description: "Add a value to the whitelist", Usage: "/add <value>", Access: AccessAdminOnly, Handle: r.handleAdd},
		{Name: "remove", Description: "Remove a value from the whitelist", Usage: "/remove <value>", Access: AccessAdminOnly, Handle: r.handleRemove},
		{Name: "list", Description: "List whitelist entries", Usage: "/list [page]", Access: AccessAdminOnly, Handle: r.handleList},
		{Name: "stats", Description: "Show usage statistics", Access: AccessAdminOnly, Handle: r.handleStats},
		{Name: "broadcast", Description: "Send a message to all users", Usage: "/broadcast <message>", Access: AccessAdminOnly, Handle: r.handleBroadcast},
		{Name: "cancel", Description: "Cancel a running broadcast", Usage: "/cancel [job-id]", Access: AccessAdminOnly, Handle: r.handleCancel},
		{Name: "export", Description: "Export the whitelist as CSV", Access: AccessAdminOnly, Handle: r.handleExport},
		{Name: "import", Description: "Import whitelist values from CSV", Access: AccessAdminOnly, Handle: r.handleImport},
		{Name: "recount", Description: "Recompute statistics counters", Access: AccessAdminOnly, Handle: r.handleRecount},
	}
}

func (r *Router) handleStart(ctx context.Context, req *Request) (string, error) {
	name := req.FromName
	if name == "" {
		name = "there"
	}
	return "Hi, " + name + "! I am the MegaBuddies bot.\n" +
		"Send me a value (or use /check <value>) and I will tell you whether it is on the whitelist.", nil
}

func (r *Router) handleHelp(ctx context.Context, req *Request) (string, error) {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, c := range r.commands {
		if c.Access == AccessAdminOnly {
			continue
		}
		writeHelpLine(&b, c)
	}
	if req.IsAdmin {
		b.WriteString("\nAdmin commands:\n")
		for _, c := range r.commands {
			if c.Access != AccessAdminOnly {
				continue
			}
			writeHelpLine(&b, c)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func writeHelpLine(b *strings.Builder, c *Command) {
	b.WriteString("/")
	b.WriteString(c.Name)
	b.WriteString(" - ")
	b.WriteString(c.Description)
	b.WriteString("\n")
}

func (r *Router) handleCheck(ctx context.Context, req *Request) (string, error) {
	if strings.TrimSpace(req.ArgText) == "" {
		return usage("/check <value>"), nil
	}
	res, err := r.deps.Whitelist.Check(ctx, req.FromID, req.ArgText)
	if err != nil {
		return "", err
	}
	return renderCheck(res), nil
}

func (r *Router) handleAdd(ctx context.Context, req *Request) (string, error) {
	if strings.TrimSpace(req.ArgText) == "" {
		return usage("/add <value>"), nil
	}
	res, err := r.deps.Whitelist.Add(ctx, req.FromID, req.ArgText)
	if err != nil {
		return "", err
	}
	return renderAdd(res), nil
}

func (r *Router) handleRemove(ctx context.Context, req *Request) (string, error) {
	if strings.TrimSpace(req.ArgText) == "" {
		return usage("/remove <value>"), nil
	}
	res, err := r.deps.Whitelist.Remove(ctx, req.ArgText)
	if err != nil {
		return "", err
	}
	return renderRemove(res), nil
}

func (r *Router) handleList(ctx context.Context, req *Request) (string, error) {
	page := 1
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n < 1 {
			return usage("/list [page]"), nil
		}
		page = n
	}
	p, err := r.deps.Whitelist.List(ctx, page, 0)
	if err != nil {
		return "", err
	}
	return renderList(p), nil
}

func (r *Router) handleStats(ctx context.Context, req *Request) (string, error) {
	rep, err := r.deps.Stats.Report(ctx, 5)
	if err != nil {
		return "", err
	}
	active := r.deps.Broadcast.Active()
	return renderStats(rep, active), nil
}

func (r *Router) handleBroadcast(ctx context.Context, req *Request) (string, error) {
	payload := strings.TrimSpace(req.ArgText)
	if payload == "" {
		return usage("/broadcast <message>"), nil
	}

	// The job outlives the per-command timeout: run it under the router's
	// base context and message the operator when it finishes.
	id, done, err := r.deps.Broadcast.Start(r.baseCtx, payload)
	if err != nil {
		if errors.Is(err, broadcast.ErrInvalidMessage) {
			return msgBroadcastInvalid, nil
		}
		return "", err
	}

	operatorChat := req.Chat
	go func() {
		res := <-done
		if res.Err != nil {
			r.deps.Log.Error("broadcast failed", logx.String("job", id), logx.Err(res.Err))
			r.reply(r.baseCtx, operatorChat, msgGenericFailure)
			return
		}
		r.reply(r.baseCtx, operatorChat, renderBroadcastReport(res.Report))
	}()

	return "Broadcast " + id + " started. Use /cancel " + id + " to stop it.", nil
}

func (r *Router) handleCancel(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) > 0 {
		if r.deps.Broadcast.Cancel(req.Args[0]) {
			return "Broadcast " + req.Args[0] + " is being cancelled; in-flight deliveries will finish.", nil
		}
		return "No running broadcast with that id.", nil
	}

	active := r.deps.Broadcast.Active()
	if len(active) == 0 {
		return "No broadcast is running.", nil
	}
	n := 0
	for _, job := range active {
		if r.deps.Broadcast.Cancel(job.ID) {
			n++
		}
	}
	return "Cancelled " + strconv.Itoa(n) + " running broadcast(s).", nil
}

func (r *Router) handleExport(ctx context.Context, req *Request) (string, error) {
	var buf bytes.Buffer
	n, err := r.deps.Whitelist.ExportCSV(ctx, &buf)
	if err != nil {
		return "", err
	}
	name := "whitelist_export_" + time.Now().Format("20060102_150405") + ".csv"
	caption := strconv.Itoa(n) + " entries"
	if err := r.deps.Adapter.SendFile(ctx, req.Chat, name, buf.Bytes(), caption); err != nil {
		return "", err
	}
	return "", nil
}

func (r *Router) handleImport(ctx context.Context, req *Request) (string, error) {
	if req.Document == nil {
		return "Send me a CSV file (first row must be the header \"value\", one value per row) to import it.", nil
	}

	data, err := r.deps.Adapter.FetchFile(ctx, req.Document.FileID)
	if err != nil {
		return "", err
	}
	report, err := r.deps.Whitelist.ImportCSV(ctx, req.FromID, bytes.NewReader(data))
	if errors.Is(err, whitelist.ErrBadHeader) {
		return msgImportBadHeader, nil
	}
	if err != nil {
		return "", err
	}
	return renderImportReport(report), nil
}

func (r *Router) handleRecount(ctx context.Context, req *Request) (string, error) {
	if err := r.deps.Stats.Recompute(ctx); err != nil {
		return "", err
	}
	return "Statistics counters recomputed from raw data.", nil
}
