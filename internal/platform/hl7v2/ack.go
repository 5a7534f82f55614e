package hl7v2

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AckCode is the acknowledgment code carried in MSA-1.
type AckCode string

const (
	// AckAccept (AA): the message was structurally and semantically fine and
	// has been queued or processed.
	AckAccept AckCode = "AA"
	// AckError (AE): the message was accepted but processing failed.
	AckError AckCode = "AE"
	// AckReject (AR): the message failed parsing or validation and was never
	// enqueued.
	AckReject AckCode = "AR"
)

// GenerateACK builds the two-segment HL7 reply (MSH + MSA) for a received
// message: the MSH addresses the original sender by swapping the application
// and facility pairs, and the MSA echoes the original control id so the
// sender can correlate. text, when non-empty, is carried in MSA-3 as the
// human-readable explanation for AE/AR replies.
//
// msg may be nil when the inbound text could not be parsed at all; the reply
// is then addressed blindly and echoes an empty control id.
func GenerateACK(msg *Message, code AckCode, text string) string {
	now := time.Now().UTC()
	controlID := newAckControlID()

	var sendApp, sendFac, recvApp, recvFac, origControlID, trigger string
	if msg != nil {
		sendApp = msg.ReceivingApplication
		sendFac = msg.ReceivingFacility
		recvApp = msg.SendingApplication
		recvFac = msg.SendingFacility
		origControlID = msg.MessageControlID
		trigger = msg.TriggerEvent()
	}

	ackType := "ACK"
	if trigger != "" {
		ackType = "ACK^" + trigger
	}

	msh := fmt.Sprintf("MSH|^~\\&|%s|%s|%s|%s|%s||%s|%s|P|2.5.1",
		sendApp, sendFac, recvApp, recvFac, now.Format("20060102150405"), ackType, controlID)

	msa := fmt.Sprintf("MSA|%s|%s", code, origControlID)
	if text != "" {
		msa += "|" + sanitizeAckText(text)
	}

	return msh + "\r" + msa
}

// newAckControlID builds a reply control id from a fresh uuid, truncated so
// the result stays inside the 20 character MSH-10 limit. Wall-clock derived
// ids can collide when two replies are generated in the same instant.
func newAckControlID() string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "ACK" + strings.ToUpper(hex[:16])
}

// sanitizeAckText strips characters that would corrupt the reply's own
// framing when an error string is echoed into MSA-3.
func sanitizeAckText(text string) string {
	r := strings.NewReplacer("\r", " ", "\n", " ", "|", " ")
	return r.Replace(text)
}
