package browser

import "strings"

type Strategy string

const (
	StrategyCss   Strategy = "css"
	StrategyId    Strategy = "id"
	StrategyClass Strategy = "class"
	StrategyXPath Strategy = "xpath"
)

type Selector struct {
	Strategy Strategy `json:"strategy"`
	Value    string   `json:"value"`
}

func Css(value string) Selector     { return Selector{Strategy: StrategyCss, Value: value} }
func ById(value string) Selector    { return Selector{Strategy: StrategyId, Value: value} }
func ByClass(value string) Selector { return Selector{Strategy: StrategyClass, Value: value} }
func XPath(value string) Selector   { return Selector{Strategy: StrategyXPath, Value: value} }

func (s Selector) String() string {
	return string(s.Strategy) + "=" + s.Value
}

// query turns the selector into a css selector, or an xpath expression when
// `xpath` is set. Class values may chain several classes with ".".
func (s Selector) query() (query string, xpath bool) {
	switch s.Strategy {
	case StrategyId:
		return "#" + s.Value, false
	case StrategyClass:
		return "." + strings.TrimPrefix(s.Value, "."), false
	case StrategyXPath:
		return s.Value, true
	}
	return s.Value, false
}
