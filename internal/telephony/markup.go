package telephony

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
)

// Minimal TwiML/Plivo-XML builders. They intentionally avoid any provider
// SDK dependency; only the verbs used at this adapter boundary exist.

type xmlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type xmlConnect struct {
	XMLName xml.Name  `xml:"Connect"`
	Stream  xmlStream `xml:"Stream"`
}

type xmlStream struct {
	XMLName        xml.Name `xml:"Stream"`
	URL            string   `xml:"url,attr"`
	StatusCallback string   `xml:"statusCallback,attr,omitempty"`
}

// Plivo-style bidirectional stream: the websocket URL is element text, not
// an attribute.
type xmlPlivoStream struct {
	XMLName       xml.Name `xml:"Stream"`
	Bidirectional string   `xml:"bidirectional,attr"`
	KeepCallAlive string   `xml:"keepCallAlive,attr"`
	ContentType   string   `xml:"contentType,attr,omitempty"`
	StatusURL     string   `xml:"statusCallbackUrl,attr,omitempty"`
	URL           string   `xml:",chardata"`
}

type xmlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type xmlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type xmlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

func renderXML(r xmlResponse) string {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		// The verb structs cannot fail to marshal; keep the call legible on
		// the off chance a new verb breaks that.
		return xml.Header + "<Response/>"
	}
	_ = enc.Flush()
	return buf.String()
}

// twimlStreamResponse answers an accepted call with a media-stream connect
// and a pause long enough for the pipeline to take over.
func twimlStreamResponse(wsURL, statusCallbackURL string) Markup {
	r := xmlResponse{Verbs: []any{
		xmlConnect{Stream: xmlStream{URL: wsURL, StatusCallback: statusCallbackURL}},
		xmlPause{Length: 40},
	}}
	return Markup{Content: renderXML(r), ContentType: contentTypeXML}
}

// twimlSayHangup speaks a message to the caller and hangs up.
func twimlSayHangup(message string) Markup {
	r := xmlResponse{Verbs: []any{
		xmlSay{Voice: "alice", Text: message},
		xmlHangup{},
	}}
	return Markup{Content: renderXML(r), ContentType: contentTypeXML}
}

func plivoStreamResponse(wsURL, statusCallbackURL string) Markup {
	r := xmlResponse{Verbs: []any{
		xmlPlivoStream{
			Bidirectional: "true",
			KeepCallAlive: "true",
			ContentType:   "audio/x-l16;rate=16000",
			StatusURL:     statusCallbackURL,
			URL:           wsURL,
		},
	}}
	return Markup{Content: renderXML(r), ContentType: contentTypeXML}
}

func plivoSayHangup(message string) Markup {
	r := xmlResponse{Verbs: []any{
		xmlSay{Text: message},
		xmlHangup{},
	}}
	return Markup{Content: renderXML(r), ContentType: contentTypeXML}
}

// GenericHangupResponse is the vendor-agnostic answer for webhooks whose
// vendor could not be identified. Plain TwiML-shaped hangup, which every
// XML-speaking vendor tolerates.
func GenericHangupResponse() Markup {
	r := xmlResponse{Verbs: []any{xmlHangup{}}}
	return Markup{Content: renderXML(r), ContentType: contentTypeXML}
}

// nccoConnectResponse builds the Vonage NCCO document connecting the call
// to the media websocket.
func nccoConnectResponse(wsURL string) Markup {
	ncco := []map[string]any{
		{
			"action": "connect",
			"endpoint": []map[string]any{
				{
					"type":         "websocket",
					"uri":          wsURL,
					"content-type": "audio/l16;rate=16000",
				},
			},
		},
	}
	content, err := json.Marshal(ncco)
	if err != nil {
		return Markup{Content: "[]", ContentType: contentTypeJSON}
	}
	return Markup{Content: string(content), ContentType: contentTypeJSON}
}

// nccoTalkResponse speaks a message via NCCO and ends the call.
func nccoTalkResponse(message string) Markup {
	ncco := []map[string]any{
		{"action": "talk", "text": message},
	}
	content, err := json.Marshal(ncco)
	if err != nil {
		return Markup{Content: "[]", ContentType: contentTypeJSON}
	}
	return Markup{Content: string(content), ContentType: contentTypeJSON}
}

func validationFailureMessage(check CheckError) string {
	return fmt.Sprintf("Sorry, there was an error validating your call. %s", check.Message())
}

func errorFailureMessage(message string) string {
	return fmt.Sprintf("Sorry, there was an error processing your call. %s", message)
}
