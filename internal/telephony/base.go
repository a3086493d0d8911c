package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/gorilla/websocket"
)

const apiBasePath = "/api/v1/telephony"

func mediaWebsocketURL(host string, workflowID, userID, runID int64) string {
	return fmt.Sprintf("wss://%s%s/ws/%d/%d/%d", host, apiBasePath, workflowID, userID, runID)
}

func callbackURL(host, vendorPath string, runID int64) string {
	return fmt.Sprintf("https://%s%s/%s/%d", host, apiBasePath, vendorPath, runID)
}

func pickFromNumber(numbers []string) string {
	if len(numbers) == 0 {
		return ""
	}
	return numbers[rand.Intn(len(numbers))]
}

// sortedParamString canonicalizes webhook params as key=value pairs joined
// by & in key order, the form several vendors sign over.
func sortedParamString(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(pairs, "&")
}

// stringField pulls the first non-empty string value among aliases, since
// vendors disagree on field casing.
func stringField(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := data[k]; ok {
			if s := toString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// vendorRequest performs a vendor REST call and decodes the JSON response.
// Non-2xx answers become ProviderAPIError with the body preserved for logs.
func vendorRequest(ctx context.Context, client *http.Client, provider, method, endpoint string, headers map[string]string, body io.Reader) (map[string]any, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, &ProviderAPIError{Provider: provider, Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &ProviderAPIError{Provider: provider, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderAPIError{Provider: provider, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProviderAPIError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var data map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			data = map[string]any{"raw_response": string(raw)}
		}
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

func vendorPostJSON(ctx context.Context, client *http.Client, provider, endpoint string, headers map[string]string, payload any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &ProviderAPIError{Provider: provider, Err: err}
	}
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Content-Type"] = contentTypeJSON
	return vendorRequest(ctx, client, provider, http.MethodPost, endpoint, headers, strings.NewReader(string(body)))
}

func vendorPostForm(ctx context.Context, client *http.Client, provider, endpoint string, headers map[string]string, form url.Values) (map[string]any, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Content-Type"] = "application/x-www-form-urlencoded"
	return vendorRequest(ctx, client, provider, http.MethodPost, endpoint, headers, strings.NewReader(form.Encode()))
}

// readStreamStart performs the Twilio-style media websocket handshake:
// an optional "connected" frame followed by a "start" frame carrying the
// stream and call identifiers. Vobiz and Itniotech speak dialects of the
// same protocol with renamed fields.
func readStreamStart(conn *websocket.Conn) (streamID, callID string, err error) {
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		return "", "", fmt.Errorf("read first media frame: %w", err)
	}
	if stringField(frame, "event") == "connected" {
		if err := conn.ReadJSON(&frame); err != nil {
			return "", "", fmt.Errorf("read start frame: %w", err)
		}
	}
	if stringField(frame, "event") != "start" {
		return "", "", fmt.Errorf("expected start event, got %q", stringField(frame, "event"))
	}

	start, _ := frame["start"].(map[string]any)
	streamID = stringField(start, "streamSid", "streamId", "stream_id")
	callID = stringField(start, "callSid", "callId", "call_id", "callUUID", "call_uuid")
	if streamID == "" || callID == "" {
		return "", "", fmt.Errorf("start frame missing stream or call identifiers")
	}
	return streamID, callID, nil
}

// closeWith sends a close control frame with an application close code
// before dropping the connection.
func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
	_ = conn.Close()
}
