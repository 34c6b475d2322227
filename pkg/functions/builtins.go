package functions

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/husmancristian/geaman-engine/pkg/values"
)

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var builtins = map[string]Func{
	"add":           numeric(func(a, b float64) float64 { return a + b }),
	"sub":           numeric(func(a, b float64) float64 { return a - b }),
	"concat":        concat,
	"upper":         unary(strings.ToUpper),
	"lower":         unary(strings.ToLower),
	"length":        length,
	"random_int":    randomInt,
	"random_string": randomString,
	"uuid":          func(*Call, []any, map[string]any) (any, error) { return uuid.NewString(), nil },
	"timestamp":     timestamp,
	"now":           now,
	"md5":           unary(func(s string) string { sum := md5.Sum([]byte(s)); return hex.EncodeToString(sum[:]) }),
	"base64_encode": unary(func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }),
	"json_dumps":    jsonDumps,
	"sleep":         sleep,
	"log":           logLine,
}

func arg(args []any, kwargs map[string]any, i int, name string) (any, bool) {
	if v, ok := kwargs[name]; ok {
		return v, true
	}
	if i < len(args) {
		return args[i], true
	}
	return nil, false
}

func intArg(args []any, kwargs map[string]any, i int, name string, def int) (int, error) {
	v, ok := arg(args, kwargs, i, name)
	if !ok {
		return def, nil
	}
	f, ok := values.ToFloat(v)
	if !ok {
		return 0, fmt.Errorf("argument %s: %v is not a number", name, v)
	}
	return int(f), nil
}

// numeric keeps integer results integral so `${add(1,2)}` yields 3, not 3.0.
func numeric(op func(a, b float64) float64) Func {
	return func(_ *Call, args []any, kwargs map[string]any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("expected 2 arguments, got %d", len(args))
		}
		a, ok := values.ToFloat(args[0])
		if !ok {
			return nil, fmt.Errorf("%v is not a number", args[0])
		}
		b, ok := values.ToFloat(args[1])
		if !ok {
			return nil, fmt.Errorf("%v is not a number", args[1])
		}
		out := op(a, b)
		if values.TypeName(args[0]) == "int" && values.TypeName(args[1]) == "int" {
			return int64(out), nil
		}
		return out, nil
	}
}

func unary(fn func(string) string) Func {
	return func(_ *Call, args []any, _ map[string]any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		return fn(values.Stringify(args[0])), nil
	}
}

func concat(_ *Call, args []any, kwargs map[string]any) (any, error) {
	var b strings.Builder
	sep := ""
	if s, ok := kwargs["sep"]; ok {
		sep = values.Stringify(s)
	}
	for i, a := range args {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(values.Stringify(a))
	}
	return b.String(), nil
}

func length(_ *Call, args []any, _ map[string]any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	n, ok := values.Length(args[0])
	if !ok {
		return nil, fmt.Errorf("%T has no length", args[0])
	}
	return int64(n), nil
}

func randomInt(_ *Call, args []any, kwargs map[string]any) (any, error) {
	lo, err := intArg(args, kwargs, 0, "min", 0)
	if err != nil {
		return nil, err
	}
	hi, err := intArg(args, kwargs, 1, "max", 100)
	if err != nil {
		return nil, err
	}
	if hi < lo {
		return nil, fmt.Errorf("max %d is lower than min %d", hi, lo)
	}
	return int64(lo + rand.IntN(hi-lo+1)), nil
}

func randomString(_ *Call, args []any, kwargs map[string]any) (any, error) {
	n, err := intArg(args, kwargs, 0, "length", 8)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("negative length %d", n)
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = letters[rand.IntN(len(letters))]
	}
	return string(out), nil
}

func timestamp(_ *Call, args []any, kwargs map[string]any) (any, error) {
	unit, _ := arg(args, kwargs, 0, "unit")
	switch values.Stringify(unit) {
	case "ms":
		return time.Now().UnixMilli(), nil
	default:
		return time.Now().Unix(), nil
	}
}

func now(_ *Call, args []any, kwargs map[string]any) (any, error) {
	layout := "2006-01-02 15:04:05"
	if v, ok := arg(args, kwargs, 0, "layout"); ok {
		layout = values.Stringify(v)
	}
	return time.Now().Format(layout), nil
}

func jsonDumps(_ *Call, args []any, _ map[string]any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	raw, err := json.Marshal(args[0])
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func sleep(call *Call, args []any, kwargs map[string]any) (any, error) {
	v, ok := arg(args, kwargs, 0, "seconds")
	if !ok {
		return nil, fmt.Errorf("missing seconds")
	}
	secs, ok := values.ToFloat(v)
	if !ok {
		return nil, fmt.Errorf("%v is not a number", v)
	}
	timer := time.NewTimer(time.Duration(secs * float64(time.Second)))
	defer timer.Stop()
	if call != nil && call.Ctx != nil {
		select {
		case <-timer.C:
		case <-call.Ctx.Done():
			return nil, call.Ctx.Err()
		}
		return nil, nil
	}
	<-timer.C
	return nil, nil
}

func logLine(call *Call, args []any, _ map[string]any) (any, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = values.Stringify(a)
	}
	if call != nil {
		call.Logf("%s", strings.Join(parts, " "))
	}
	return nil, nil
}
