package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func twilioTestProvider() *Twilio {
	return NewTwilio(ProviderConfig{
		Provider:    ProviderTwilio,
		FromNumbers: []string{"+15550001111"},
		Twilio:      &TwilioCredentials{AccountSID: "AC123", AuthToken: "secret"},
	}, "gw.example.com", nil)
}

func TestTwilioStatusCallbackRoundTrip(t *testing.T) {
	p := twilioTestProvider()
	su := p.ParseStatusCallback(map[string]any{
		"CallSid":      "X",
		"CallStatus":   "completed",
		"CallDuration": "42",
	})

	if su.CallID != "X" || su.Status != "completed" || su.Duration != "42" {
		t.Fatalf("unexpected status update: %+v", su)
	}
	if su.Extra["CallSid"] != "X" {
		t.Fatal("extra should carry the raw payload")
	}
}

func TestTwilioSignature(t *testing.T) {
	p := twilioTestProvider()
	url := "https://gw.example.com/api/v1/telephony/inbound/7"
	params := map[string]any{"CallSid": "CA1", "From": "+15550002222", "To": "+15550001111"}

	// Twilio concatenates the URL with key+value pairs in key order.
	mac := hmac.New(sha1.New, []byte("secret"))
	mac.Write([]byte(url + "CallSid" + "CA1" + "From" + "+15550002222" + "To" + "+15550001111"))
	good := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !p.VerifySignature(url, params, Signature{Value: good}) {
		t.Fatal("valid signature rejected")
	}
	if p.VerifySignature(url, params, Signature{Value: "bogus"}) {
		t.Fatal("invalid signature accepted")
	}
	if p.VerifySignature(url, params, Signature{}) {
		t.Fatal("empty signature accepted")
	}
}

func TestVobizSignature(t *testing.T) {
	p := NewVobiz(ProviderConfig{
		Provider:    ProviderVobiz,
		FromNumbers: []string{"+15550001111"},
		Vobiz:       &VobizCredentials{AuthID: "MA1", AuthToken: "vbtok"},
	}, "gw.example.com", nil)

	url := "https://gw.example.com/api/v1/telephony/vobiz/hangup-callback/9"
	body := `{"CallUUID":"vb-1","CallStatus":"completed"}`
	ts := "1724400000"

	mac := hmac.New(sha256.New, []byte("vbtok"))
	mac.Write([]byte(url + ts + body))
	good := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !p.VerifySignature(url, nil, Signature{Value: good, Timestamp: ts, Body: body}) {
		t.Fatal("valid signature rejected")
	}
	if p.VerifySignature(url, nil, Signature{Value: good, Timestamp: "1724400001", Body: body}) {
		t.Fatal("signature with wrong timestamp accepted")
	}
}

func TestItniotechSignature(t *testing.T) {
	p := NewItniotech(ProviderConfig{
		Provider:    ProviderItniotech,
		FromNumbers: []string{"+15550001111"},
		Itniotech:   &ItniotechCredentials{APIKey: "key", APISecret: "itsecret"},
	}, "gw.example.com", nil)

	url := "https://gw.example.com/api/v1/telephony/inbound/7"
	params := map[string]any{"call_id": "it-1", "from": "15550002222"}

	mac := hmac.New(sha256.New, []byte("itsecret"))
	mac.Write([]byte(url + "|call_id=it-1&from=15550002222"))
	good := hex.EncodeToString(mac.Sum(nil))

	if !p.VerifySignature(url, params, Signature{Value: good}) {
		t.Fatal("valid signature rejected")
	}
	if p.VerifySignature(url, params, Signature{Value: good + "00"}) {
		t.Fatal("tampered signature accepted")
	}
}

func TestVonageStatusMapping(t *testing.T) {
	p := &Vonage{}
	cases := []struct{ in, want string }{
		{"started", "initiated"},
		{"ringing", "ringing"},
		{"answered", "answered"},
		{"complete", "completed"},
		{"failed", "failed"},
		{"busy", "busy"},
		{"timeout", "no-answer"},
		{"rejected", "busy"},
		{"transfer", "transfer"},
	}
	for _, c := range cases {
		su := p.ParseStatusCallback(map[string]any{"uuid": "vn-1", "status": c.in})
		if su.Status != c.want {
			t.Fatalf("vonage status %q: got %q, want %q", c.in, su.Status, c.want)
		}
	}
}

func TestVobizStatusMapping(t *testing.T) {
	p := &Vobiz{}
	su := p.ParseStatusCallback(map[string]any{
		"CallUUID":   "vb-1",
		"CallStatus": "hangup",
		"Duration":   "17",
	})
	if su.CallID != "vb-1" || su.Status != "completed" || su.Duration != "17" {
		t.Fatalf("unexpected status update: %+v", su)
	}
}

func TestValidateConfigPerVendor(t *testing.T) {
	cases := []struct {
		name string
		p    Provider
		want bool
	}{
		{"twilio ok", twilioTestProvider(), true},
		{"twilio missing numbers", NewTwilio(ProviderConfig{
			Provider: ProviderTwilio,
			Twilio:   &TwilioCredentials{AccountSID: "AC", AuthToken: "t"},
		}, "h", nil), false},
		{"livekit ok", NewLiveKit(ProviderConfig{
			Provider: ProviderLiveKit,
			LiveKit:  &LiveKitCredentials{ServerURL: "https://lk", APIKey: "k", APISecret: "s", SIPTrunkID: "ST"},
		}, "h", nil), true},
		{"livekit missing trunk", NewLiveKit(ProviderConfig{
			Provider: ProviderLiveKit,
			LiveKit:  &LiveKitCredentials{ServerURL: "https://lk", APIKey: "k", APISecret: "s"},
		}, "h", nil), false},
		{"vonage missing key", NewVonage(ProviderConfig{
			Provider:    ProviderVonage,
			FromNumbers: []string{"1"},
			Vonage:      &VonageCredentials{ApplicationID: "app"},
		}, "h", nil), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.p.ValidateConfig(); got != c.want {
				t.Fatalf("got %v, want %v", got, c.want)
			}
		})
	}
}

func TestLiveKitRoomNaming(t *testing.T) {
	p := NewLiveKit(ProviderConfig{
		Provider: ProviderLiveKit,
		LiveKit:  &LiveKitCredentials{ServerURL: "https://lk", APIKey: "k", APISecret: "s", SIPTrunkID: "ST", RoomPrefix: "dial"},
	}, "h", nil)

	if got := p.roomName(42); got != "dial-42" {
		t.Fatalf("room name: %q", got)
	}
}
