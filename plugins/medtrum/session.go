package medtrum

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Session is an authenticated account. It only exists after a successful
// Login, so every status call has an identity to address.
type Session struct {
	client   *Client
	uid      string
	realName string
}

func (s *Session) UID() string {
	return s.uid
}

func (s *Session) RealName() string {
	return s.realName
}

type statusResponse struct {
	Error int                        `json:"error"`
	Data  map[string]json.RawMessage `json:"data"`
}

// FetchStatus reads today's pump and sensor status. Transport errors are
// returned unchanged.
func (s *Session) FetchStatus(ctx context.Context) (*Snapshot, error) {
	raw, err := s.client.transport.do(ctx, http.MethodGet, s.statusURL(), defaultHeaders(), nil)
	if err != nil {
		return nil, err
	}

	var resp statusResponse
	if err := decodeJSON(raw, &resp); err != nil {
		return nil, &APIError{Reason: "decode status response", Err: err}
	}
	if resp.Data == nil {
		return nil, &APIError{Reason: fmt.Sprintf("status response without data (error %d)", resp.Error)}
	}

	snapshot := &Snapshot{
		UID:       s.uid,
		RealName:  s.realName,
		FetchedAt: s.client.now().UTC(),
	}
	if snapshot.Pump, err = decodeFields(resp.Data, ScopePump); err != nil {
		return nil, &APIError{Reason: "decode pump status", Err: err}
	}
	if snapshot.Sensor, err = decodeFields(resp.Data, ScopeSensor); err != nil {
		return nil, &APIError{Reason: "decode sensor status", Err: err}
	}

	s.client.logger.Debug("status fetched",
		zap.String("uid", s.uid),
		zap.Int("pump_fields", len(snapshot.Pump)),
		zap.Int("sensor_fields", len(snapshot.Sensor)),
	)
	return snapshot, nil
}

func (s *Session) statusURL() string {
	path := strings.ReplaceAll(statusPath, "$userid", url.PathEscape(s.uid))
	query := url.Values{"param": []string{encodeWindowParam(s.client.now())}}
	return s.client.baseURL + path + "?" + query.Encode()
}

func decodeFields(data map[string]json.RawMessage, scope Scope) (Fields, error) {
	raw, ok := data[scope.StatusKey()]
	if !ok {
		return nil, nil
	}
	var fields Fields
	if err := decodeJSON(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
