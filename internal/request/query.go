package request

import (
	"fmt"
	"net/url"
	"strconv"
)

// Query is appended to a GET endpoint. url.Values satisfies it.
type Query interface {
	Encode() string
}

// RawQuery is an already encoded query string, appended as is.
type RawQuery string

func (q RawQuery) Encode() string {
	return string(q)
}

// Params is a structured query. Values may be strings, numbers, bools or
// string slices; slices repeat the key once per element.
type Params map[string]any

func (p Params) Encode() string {
	values := url.Values{}
	for key, v := range p {
		switch val := v.(type) {
		case []string:
			for _, s := range val {
				values.Add(key, s)
			}
		case string:
			values.Add(key, val)
		case bool:
			values.Add(key, strconv.FormatBool(val))
		case int:
			values.Add(key, strconv.Itoa(val))
		case int64:
			values.Add(key, strconv.FormatInt(val, 10))
		case float64:
			values.Add(key, strconv.FormatFloat(val, 'f', -1, 64))
		case nil:
			values.Add(key, "")
		default:
			values.Add(key, fmt.Sprint(val))
		}
	}

	// url.Values.Encode sorts by key and keeps slice order within a key.
	return values.Encode()
}
