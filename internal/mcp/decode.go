package mcp

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"reflect"

	"github.com/mark3labs/mcp-go/mcp"
)

// decode reads a focus tool's arguments (hours, limit, days or date) into
// its request struct. A call without arguments yields the zero request, which
// the handlers read as "use the tool default". JSON numbers only become the
// integer fields when they are whole, and a mistyped argument is reported by
// name so the handler can return it as INVALID_REQUEST.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	args := req.GetArguments()
	if args == nil {
		return result, nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return result, fmt.Errorf("marshal args: %w", err)
	}
	if err := json.Unmarshal(b, &result); err != nil {
		var typeErr *json.UnmarshalTypeError
		if stderrors.As(err, &typeErr) && typeErr.Field != "" {
			return result, fmt.Errorf("%s must be %s, got %s", typeErr.Field, expected(typeErr.Type), typeErr.Value)
		}
		return result, fmt.Errorf("unmarshal args: %w", err)
	}
	return result, nil
}

func expected(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "a whole number"
	case reflect.String:
		return "a string"
	default:
		return t.String()
	}
}
