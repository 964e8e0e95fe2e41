package protocol

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := MustEnvelope(EventMergeNotes, MergePair{SourceID: "n1", TargetID: "n2"})
	env.ID = 7

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}

	var got Envelope
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got.Event != EventMergeNotes || got.ID != 7 {
		t.Errorf("envelope = %+v", got)
	}

	var pair MergePair
	if err := json.Unmarshal(got.Data, &pair); err != nil {
		t.Fatal(err)
	}
	if pair.SourceID != "n1" || pair.TargetID != "n2" {
		t.Errorf("pair = %+v", pair)
	}
}

func TestEnvelope_IDOmittedWhenZero(t *testing.T) {
	raw, err := json.Marshal(Envelope{Event: EventNoteLiked})
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"event":"note-liked"}` {
		t.Errorf("wire form = %s", raw)
	}
}

func TestAck(t *testing.T) {
	env, err := Ack(3, RegisterResult{Success: true})
	if err != nil {
		t.Fatal(err)
	}
	if env.Event != EventAck || env.ID != 3 {
		t.Errorf("ack = %+v", env)
	}

	var res RegisterResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Error("success flag lost")
	}
}

func TestNewEnvelope_RejectsUnmarshalable(t *testing.T) {
	if _, err := NewEnvelope(EventAddNote, make(chan int)); err == nil {
		t.Fatal("channel payload must fail to marshal")
	}
}
