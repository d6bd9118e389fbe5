package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/ideaflow/internal/audit"
	"github.com/jkaninda/ideaflow/internal/domain"
	"github.com/jkaninda/ideaflow/internal/llm"
	"github.com/jkaninda/ideaflow/internal/protocol"
	"github.com/jkaninda/ideaflow/internal/tools"
)

// outcome is the result of one tool call attempt.
type outcome struct {
	status  domain.UsageStatus
	params  map[string]any
	output  string // What the model sees.
	message string // What the client sees in tool_executing.
	// executed is set once the executor was invoked, whatever it returned.
	executed bool
}

// dispatch gates, runs and audits one tool call and returns the tool_result
// block for the model. Everything after the gate runs on a context detached
// from the connection, so a disconnect never loses an audit row; only the
// client notifications stop.
func (s *Session) dispatch(ctx context.Context, call llm.ContentBlock) llm.ContentBlock {
	work := context.WithoutCancel(ctx)
	work, span := s.relay.tracer.Start(work, "relay.tool",
		trace.WithAttributes(
			attribute.String("tool", call.Name),
			attribute.String("session_id", s.ID()),
		))
	defer span.End()

	start := time.Now()
	params := call.Input
	if params == nil {
		params = map[string]any{}
	}

	out := s.execute(ctx, work, call.Name, params)
	latency := time.Since(start)
	span.SetAttributes(attribute.String("status", string(out.status)))

	if s.relay.auditor != nil {
		err := s.relay.auditor.Record(work, audit.Entry{
			SessionID:   s.session.ID,
			AgentTypeID: s.handle.AgentTypeID(),
			ToolName:    call.Name,
			Parameters:  out.params,
			Result:      out.output,
			Status:      out.status,
			Executed:    out.executed,
			Latency:     latency,
		})
		if err != nil {
			s.fail(ctx, err)
		}
	}

	s.send(ctx, protocol.EventToolExecuting, protocol.ToolExecutingPayload{
		ToolName: call.Name,
		Status:   string(out.status),
		Message:  out.message,
	})
	s.logger.InfoContext(ctx, "tool call finished",
		slog.String("tool", call.Name),
		slog.String("status", string(out.status)),
		slog.Duration("latency", latency),
	)
	return llm.ToolResultBlock(call.ID, out.output, out.status != domain.UsageSuccess)
}

// execute walks the call through the gate, the approval and usage policy,
// parameter validation and finally the executor. ctx is only used to notify
// the client.
func (s *Session) execute(ctx, work context.Context, name string, params map[string]any) outcome {
	if err := s.relay.gate.Check(work, s.handle.AgentTypeID(), name, params); err != nil {
		var denied *domain.PermissionDeniedError
		reason := "permission check failed"
		if errors.As(err, &denied) {
			reason = denied.Reason
		} else {
			s.logger.ErrorContext(work, "permission check failed",
				slog.String("tool", name),
				slog.String("error", err.Error()),
			)
		}
		return outcome{
			status:  domain.UsageDenied,
			params:  params,
			output:  "Permission denied: " + reason,
			message: reason,
		}
	}

	rt, ok := s.handle.Tool(name)
	if !ok {
		reason := "tool is not available in this session"
		return outcome{status: domain.UsageDenied, params: params, output: "Permission denied: " + reason, message: reason}
	}

	if rt.RequiresApproval {
		reason := "tool requires approval"
		return outcome{status: domain.UsageBlocked, params: params, output: "Blocked: " + reason, message: reason}
	}
	if rt.UsageLimit != domain.UnlimitedUsage && s.relay.auditor != nil {
		used, err := s.relay.auditor.Invocations(work, s.session.ID, name)
		if err != nil {
			s.logger.ErrorContext(work, "counting tool invocations", slog.String("tool", name), slog.String("error", err.Error()))
			return outcome{status: domain.UsageFailed, params: params, output: "Error: usage could not be checked", message: "usage could not be checked"}
		}
		if used >= int64(rt.UsageLimit) {
			reason := fmt.Sprintf("usage limit of %d calls per session reached", rt.UsageLimit)
			return outcome{status: domain.UsageBlocked, params: params, output: "Blocked: " + reason, message: reason}
		}
	}

	merged := withDefaults(rt.Defaults, params)
	if err := s.handle.ValidateParams(name, merged); err != nil {
		msg := "invalid parameters: " + err.Error()
		return outcome{status: domain.UsageFailed, params: merged, output: "Error: " + msg, message: msg}
	}

	if s.relay.executors == nil {
		return outcome{status: domain.UsageFailed, params: merged, output: "Error: no tool executors configured", message: "tool is not executable"}
	}
	tool, err := s.relay.executors.Lookup(rt)
	if err != nil {
		return outcome{status: domain.UsageFailed, params: merged, output: "Error: " + err.Error(), message: "tool is not executable"}
	}

	s.send(ctx, protocol.EventToolExecuting, protocol.ToolExecutingPayload{ToolName: name, Status: protocol.ToolRunning})

	execCtx, cancel := context.WithTimeout(work, s.relay.config.ToolTimeout)
	defer cancel()
	res, err := tool.Execute(execCtx, merged)
	switch {
	case err != nil:
		return outcome{status: domain.UsageFailed, params: merged, output: "Error: " + err.Error(), message: err.Error(), executed: true}
	case res == nil:
		return outcome{status: domain.UsageFailed, params: merged, output: "Error: tool returned no result", message: "tool returned no result", executed: true}
	case !res.Success:
		return outcome{status: domain.UsageFailed, params: merged, output: tools.TruncateOutput(res.Output, tools.MaxOutputBytes), message: "tool reported failure", executed: true}
	}
	return outcome{status: domain.UsageSuccess, params: merged, output: tools.TruncateOutput(res.Output, tools.MaxOutputBytes), executed: true}
}

// withDefaults returns params with the assignment defaults filled in for
// absent keys.
func withDefaults(defaults, params map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(params))
	maps.Copy(out, defaults)
	maps.Copy(out, params)
	return out
}
