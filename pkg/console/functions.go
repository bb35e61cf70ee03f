package console

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/firepwn/firepwn/internal/jsonlit"
	"github.com/firepwn/firepwn/pkg/backend"
)

// Call is a parsed call expression.
type Call struct {
	Name string
	// ArgText is the parenthesised argument text, for example "(1,2)".
	ArgText string
	Args    []any
}

// Payload is the data sent to the function: null for no argument, the
// value itself for one argument and an array for several. A browser
// callable sends only its first argument; here extra arguments are kept
// rather than silently dropped.
func (c Call) Payload() any {
	switch len(c.Args) {
	case 0:
		return nil
	case 1:
		return c.Args[0]
	default:
		return c.Args
	}
}

var callNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*\(`)

// ParseCall parses an expression of the form name(arguments). The
// arguments are relaxed JSON literals separated by commas.
func ParseCall(cmd string) (Call, error) {
	cmd = strings.TrimSpace(cmd)
	if !callNameRe.MatchString(cmd) {
		return Call{}, &ValidationError{Message: "Please enter a valid invoke syntax"}
	}
	if !strings.HasSuffix(cmd, ")") {
		return Call{}, &ValidationError{Message: "Please enter a valid invoke syntax. The input must end with ')'"}
	}

	open := strings.IndexByte(cmd, '(')
	call := Call{
		Name:    cmd[:open],
		ArgText: cmd[open:],
	}

	args, err := jsonlit.ParseList(call.ArgText[1 : len(call.ArgText)-1])
	if err != nil {
		return Call{}, &ValidationError{Message: "Invalid invoke syntax: " + err.Error(), Err: err}
	}
	call.Args = args
	return call, nil
}

// Invoke parses cmd and calls the named callable function.
func (c *Console) Invoke(ctx context.Context, cmd string) error {
	sess := c.session()
	if !sess.initialized {
		return c.reject(SubsystemFunctions, "call", "Functions service not initialized", ErrNotInitialized)
	}

	call, err := ParseCall(cmd)
	if err != nil {
		return c.reject(SubsystemFunctions, "call", err.Error(), err)
	}

	cmd = strings.TrimSpace(cmd)
	functions := sess.functions
	c.dispatch(ctx, SubsystemFunctions, "call", func(ctx context.Context) error {
		res, err := functions.Call(ctx, call.Name, call.Payload())
		if err != nil {
			c.log.Error(fmt.Sprintf("Error: Cannot invoke %s. %s", call.Name, invokeReason(err)))
			return err
		}
		c.log.Success("Invoke: " + cmd + "\nResponse: " + compactJSON(map[string]any{"data": res}))
		return nil
	})
	return nil
}

func invokeReason(err error) string {
	switch backend.CodeOf(err) {
	case backend.CodeInternal, backend.CodeUnknown:
		return "Reason: Unknown."
	case backend.CodeNotFound:
		return "Reason: Cloud Function not found."
	default:
		return err.Error()
	}
}

// PreviewCall renders the request a callable invocation of cmd sends.
func (c *Console) PreviewCall(cmd string) (string, error) {
	call, err := ParseCall(cmd)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("POST %s\nContent-Type: application/json\n\n%s",
		c.functionURL(call.Name), prettyJSON(map[string]any{"data": call.Payload()})), nil
}

// functionURL returns the endpoint of name, or a placeholder before
// initialization.
func (c *Console) functionURL(name string) string {
	sess := c.session()
	if !sess.initialized {
		return fmt.Sprintf("https://%s-<projectId>.cloudfunctions.net/%s", c.opts.functionsRegion, name)
	}
	return sess.functions.URL(name)
}
