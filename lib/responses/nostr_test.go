package responses_test

import (
	"encoding/json"
	"testing"

	"github.com/getAlby/knostr.go/db/models"
	"github.com/getAlby/knostr.go/lib/responses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandResults(t *testing.T) {
	assert.JSONEq(t, `["OK","abc",true,""]`, string(responses.Ok("abc").JSON()))
	assert.JSONEq(t, `["OK","abc",true,"duplicate:"]`, string(responses.Duplicate("abc").JSON()))
	assert.JSONEq(t, `["OK","abc",false,"invalid: event id does not match"]`,
		string(responses.Invalid("abc", "event id does not match").JSON()))
	assert.JSONEq(t, `["OK","abc",false,"error: could not save event"]`,
		string(responses.Errorf("abc", "could not save event").JSON()))
}

func TestNotices(t *testing.T) {
	assert.JSONEq(t, `["NOTICE","PONG"]`, string(responses.Notice("PONG").JSON()))
	assert.JSONEq(t, `["NOTICE","invalid: message too large"]`, string(responses.InvalidNotice("message too large").JSON()))
	assert.JSONEq(t, `["NOTICE","blocked: IP blocked"]`, string(responses.BlockedNotice("IP blocked").JSON()))
	assert.JSONEq(t, `["NOTICE","rate-limited: slow down"]`, string(responses.RateLimitedNotice("slow down").JSON()))
}

func TestEventMessage(t *testing.T) {
	event := &models.Event{ID: "id", PubKey: "pk", CreatedAt: 1, Kind: 1, Content: "hi", Sig: "sig"}

	var decoded []json.RawMessage
	require.NoError(t, json.Unmarshal(responses.EventMessage("sub", event), &decoded))
	require.Len(t, decoded, 3)
	assert.JSONEq(t, `"EVENT"`, string(decoded[0]))
	assert.JSONEq(t, `"sub"`, string(decoded[1]))
	assert.JSONEq(t, `{"id":"id","pubkey":"pk","created_at":1,"kind":1,"tags":[],"content":"hi","sig":"sig"}`, string(decoded[2]))

	assert.JSONEq(t, `["EOSE","sub"]`, string(responses.EndOfStoredEvents("sub")))
}
