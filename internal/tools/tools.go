package tools

import (
	"context"
	"fmt"
	"go/constant"
	"go/token"
	"go/types"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agentgate/agentd/internal/common/logger"
)

func registerTools(s *server.MCPServer, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("get_server_time",
			mcp.WithDescription("Get the server's current time in RFC3339 format."),
			mcp.WithString("timezone",
				mcp.Description("IANA timezone name, e.g. Europe/Berlin. Defaults to the server's local timezone."),
			),
		),
		serverTimeHandler(log),
	)

	s.AddTool(
		mcp.NewTool("calculate",
			mcp.WithDescription("Evaluate an arithmetic expression, e.g. (2+3)*4 or 10.5/3. Supports + - * / % and parentheses."),
			mcp.WithString("expression",
				mcp.Required(),
				mcp.Description("The expression to evaluate"),
			),
		),
		calculateHandler(log),
	)

	log.Info("registered MCP tools", zap.Int("count", 2))
}

func serverTimeHandler(log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		now := time.Now()

		args := req.GetArguments()
		if tz, ok := args["timezone"].(string); ok && tz != "" {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Unknown timezone %q: %v", tz, err)), nil
			}
			now = now.In(loc)
		}

		return mcp.NewToolResultText(now.Format(time.RFC3339)), nil
	}
}

const maxExpressionLen = 256

func calculateHandler(log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		expr, ok := args["expression"].(string)
		if !ok || expr == "" {
			return mcp.NewToolResultError("expression is required"), nil
		}
		if len(expr) > maxExpressionLen {
			return mcp.NewToolResultError("expression too long"), nil
		}

		result, err := evaluate(expr)
		if err != nil {
			log.Debug("calculate failed", zap.String("expression", expr), zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Cannot evaluate %q: %v", expr, err)), nil
		}
		return mcp.NewToolResultText(result), nil
	}
}

// evaluate computes a constant arithmetic expression. Identifiers, function
// calls, and anything else the constant evaluator rejects produce an error,
// so arbitrary code can never run.
func evaluate(expr string) (string, error) {
	tv, err := types.Eval(token.NewFileSet(), nil, token.NoPos, expr)
	if err != nil {
		return "", err
	}
	if tv.Value == nil {
		return "", fmt.Errorf("not a constant expression")
	}

	switch tv.Value.Kind() {
	case constant.Int:
		return tv.Value.ExactString(), nil
	case constant.Float:
		f, _ := constant.Float64Val(tv.Value)
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported result type %s", tv.Value.Kind())
	}
}
