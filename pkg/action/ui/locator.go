package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/husmancristian/geaman-engine/pkg/engineerr"
	"github.com/husmancristian/geaman-engine/pkg/models"
)

// Point locator strategies.
const (
	StrategyCoordinate = "coordinate"
	StrategyPercentage = "percentage"
)

// Rect is the current window (or device screen) size.
type Rect struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsPoint reports whether loc addresses a screen point instead of an element.
func IsPoint(loc models.Locator) bool {
	s := strings.ToLower(strings.TrimSpace(loc.Strategy))
	return s == StrategyCoordinate || s == StrategyPercentage
}

// using maps a locator strategy onto the WebDriver "using" value and selector.
// Browsers only know the W3C strategies, so id/name/class are rewritten as CSS there.
func using(loc models.Locator, mobile bool) (string, string, error) {
	expr := loc.Expression
	if strings.TrimSpace(expr) == "" {
		return "", "", engineerr.Backend(engineerr.BackendInvalidLocator, "empty locator expression", nil)
	}
	switch strings.ToLower(strings.TrimSpace(loc.Strategy)) {
	case "", "css", "css selector":
		return "css selector", expr, nil
	case "xpath":
		return "xpath", expr, nil
	case "id":
		if mobile {
			return "id", expr, nil
		}
		return "css selector", fmt.Sprintf("[id=%q]", expr), nil
	case "name":
		if mobile {
			return "name", expr, nil
		}
		return "css selector", fmt.Sprintf("[name=%q]", expr), nil
	case "class", "class name":
		if mobile {
			return "class name", expr, nil
		}
		return "css selector", "." + expr, nil
	case "link_text", "link text":
		return "link text", expr, nil
	case "partial_link_text", "partial link text":
		return "partial link text", expr, nil
	case "tag", "tag name":
		return "tag name", expr, nil
	case "accessibility_id", "accessibility id":
		return "accessibility id", expr, nil
	case "android_uiautomator":
		return "-android uiautomator", expr, nil
	case "ios_predicate":
		return "-ios predicate string", expr, nil
	case "ios_class_chain":
		return "-ios class chain", expr, nil
	}
	return "", "", engineerr.Backend(engineerr.BackendInvalidLocator, fmt.Sprintf("unknown locator strategy %q", loc.Strategy), nil)
}

// ResolvePoint translates a coordinate or percentage locator into a point on the current
// screen. Coordinates are scaled from the reference resolution they were recorded on.
func ResolvePoint(loc models.Locator, current Rect) (int, int, error) {
	nums, err := parseNumbers(loc.Expression, 2)
	if err != nil {
		return 0, 0, err
	}
	return scale(loc, current, nums[0], nums[1])
}

// ResolveSwipe translates "x1,y1,x2,y2" like ResolvePoint. A zero locator means percentages.
func ResolveSwipe(loc models.Locator, text string, current Rect) ([4]int, error) {
	var out [4]int
	nums, err := parseNumbers(text, 4)
	if err != nil {
		return out, err
	}
	if loc.Strategy == "" {
		loc.Strategy = StrategyPercentage
	}
	for i := 0; i < 4; i += 2 {
		x, y, err := scale(loc, current, nums[i], nums[i+1])
		if err != nil {
			return out, err
		}
		out[i], out[i+1] = x, y
	}
	return out, nil
}

func scale(loc models.Locator, current Rect, x, y float64) (int, int, error) {
	switch strings.ToLower(strings.TrimSpace(loc.Strategy)) {
	case StrategyPercentage:
		if x > 1 || y > 1 {
			x, y = x/100, y/100
		}
		return int(x * current.Width), int(y * current.Height), nil
	case StrategyCoordinate:
		if loc.ReferenceWidth > 0 && loc.ReferenceHeight > 0 {
			x = x * current.Width / float64(loc.ReferenceWidth)
			y = y * current.Height / float64(loc.ReferenceHeight)
		}
		return int(x), int(y), nil
	}
	return 0, 0, engineerr.Backend(engineerr.BackendInvalidLocator, fmt.Sprintf("%q is not a point strategy", loc.Strategy), nil)
}

func parseNumbers(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, engineerr.Backend(engineerr.BackendInvalidLocator, fmt.Sprintf("expected %d comma separated numbers, got %q", n, s), nil)
	}
	out := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(p), "%"), 64)
		if err != nil {
			return nil, engineerr.Backend(engineerr.BackendInvalidLocator, fmt.Sprintf("invalid number %q", p), err)
		}
		out[i] = f
	}
	return out, nil
}
