package hl7v2

import (
	"strings"
	"testing"
)

func TestGenerateACK_EchoesControlID(t *testing.T) {
	msg, err := Parse(oruSample)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ack := GenerateACK(msg, AckAccept, "")
	segments := strings.Split(ack, "\r")
	if len(segments) != 2 {
		t.Fatalf("expected MSH and MSA segments, got %d", len(segments))
	}

	msa := strings.Split(segments[1], "|")
	if msa[0] != "MSA" {
		t.Fatalf("expected MSA segment, got %s", msa[0])
	}
	if msa[1] != "AA" {
		t.Errorf("expected AA, got %s", msa[1])
	}
	if msa[2] != "MSG001" {
		t.Errorf("expected original control id MSG001, got %s", msa[2])
	}
}

func TestGenerateACK_SwapsSenderAndReceiver(t *testing.T) {
	msg, err := Parse(oruSample)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ack := GenerateACK(msg, AckAccept, "")
	msh := strings.Split(strings.Split(ack, "\r")[0], "|")

	// The reply's sender is the original receiver and vice versa.
	if msh[2] != "DERMAPP" || msh[3] != "DERM" {
		t.Errorf("unexpected reply sender: %s/%s", msh[2], msh[3])
	}
	if msh[4] != "LAB" || msh[5] != "LABFAC" {
		t.Errorf("unexpected reply receiver: %s/%s", msh[4], msh[5])
	}
	if msh[8] != "ACK^R01" {
		t.Errorf("expected ACK^R01, got %s", msh[8])
	}
	if msh[9] == "" || msh[9] == "MSG001" {
		t.Errorf("reply needs its own control id, got %q", msh[9])
	}
}

func TestGenerateACK_ErrorText(t *testing.T) {
	msg, err := Parse(oruSample)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ack := GenerateACK(msg, AckError, "processing failed: boom")
	msa := strings.Split(strings.Split(ack, "\r")[1], "|")
	if msa[1] != "AE" {
		t.Errorf("expected AE, got %s", msa[1])
	}
	if msa[3] != "processing failed: boom" {
		t.Errorf("expected error text in MSA-3, got %q", msa[3])
	}
}

func TestGenerateACK_SanitizesText(t *testing.T) {
	msg, err := Parse(oruSample)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ack := GenerateACK(msg, AckReject, "bad|input\rwith\nbreaks")
	segments := strings.Split(ack, "\r")
	if len(segments) != 2 {
		t.Fatalf("embedded separators corrupted framing: %q", ack)
	}
	msa := strings.Split(segments[1], "|")
	if len(msa) != 4 {
		t.Fatalf("embedded pipes corrupted MSA: %q", segments[1])
	}
}

func TestGenerateACK_NilMessage(t *testing.T) {
	ack := GenerateACK(nil, AckReject, "unparseable")
	segments := strings.Split(ack, "\r")
	if len(segments) != 2 {
		t.Fatalf("expected two segments, got %d", len(segments))
	}
	if !strings.HasPrefix(segments[0], "MSH|^~\\&|") {
		t.Errorf("expected standard MSH prefix, got %q", segments[0])
	}
	msa := strings.Split(segments[1], "|")
	if msa[1] != "AR" {
		t.Errorf("expected AR, got %s", msa[1])
	}
	if msa[2] != "" {
		t.Errorf("expected empty echoed control id, got %q", msa[2])
	}
}

func TestGenerateACK_ControlIDsAreUnique(t *testing.T) {
	msg, err := Parse(oruSample)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		ack := GenerateACK(msg, AckAccept, "")
		msh := strings.Split(strings.Split(ack, "\r")[0], "|")
		id := msh[9]
		if !strings.HasPrefix(id, "ACK") {
			t.Fatalf("expected ACK-prefixed control id, got %q", id)
		}
		if len(id) > 20 {
			t.Fatalf("control id %q exceeds MSH-10 length limit", id)
		}
		if id == msg.MessageControlID {
			t.Fatal("reply control id must differ from the inbound one")
		}
		if seen[id] {
			t.Fatalf("duplicate control id %q", id)
		}
		seen[id] = true
	}
}
