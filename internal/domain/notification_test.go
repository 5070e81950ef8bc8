package domain

import (
	"errors"
	"strings"
	"testing"
)

func validNotification() Notification {
	return Notification{
		RecipientID: "r-1",
		Type:        TypeQueueCalled,
		Title:       "Your turn",
		Body:        "Please proceed to counter 3",
		Priority:    PriorityHigh,
	}
}

func TestNotificationValidate(t *testing.T) {
	t.Parallel()

	n := validNotification()
	if err := n.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	missingRecipient := validNotification()
	missingRecipient.RecipientID = "  "
	if err := missingRecipient.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}

	badType := validNotification()
	badType.Type = "SOMETHING_ELSE"
	if err := badType.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}

	emptyContent := validNotification()
	emptyContent.Title = ""
	emptyContent.Body = " "
	if err := emptyContent.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}

	longBody := validNotification()
	longBody.Body = strings.Repeat("a", MaxBodyLength+1)
	if err := longBody.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}

	badChannel := validNotification()
	badChannel.RequestedChannels = []Channel{Channel("FAX")}
	if err := badChannel.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}
}

func TestParseChannelFromString(t *testing.T) {
	t.Parallel()

	ch, err := ParseChannelFromString(" sms ")
	if err != nil {
		t.Fatalf("ParseChannelFromString() error = %v", err)
	}
	if ch != ChannelSMS {
		t.Fatalf("channel = %s, want SMS", ch)
	}

	if _, err := ParseChannelFromString("pigeon"); !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestParseNotificationTypeFromString(t *testing.T) {
	t.Parallel()

	nt, err := ParseNotificationTypeFromString("queue_called")
	if err != nil {
		t.Fatalf("ParseNotificationTypeFromString() error = %v", err)
	}
	if nt != TypeQueueCalled {
		t.Fatalf("type = %s, want QUEUE_CALLED", nt)
	}
	if nt.Urgency() != UrgencyCritical {
		t.Fatalf("urgency = %s, want CRITICAL", nt.Urgency())
	}
	if nt.MaxDelay() != 0 {
		t.Fatalf("maxDelay = %v, want 0", nt.MaxDelay())
	}

	if _, err := ParseNotificationTypeFromString("unknown"); !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestParsePriorityFromString(t *testing.T) {
	t.Parallel()

	pr, err := ParsePriorityFromString("High")
	if err != nil {
		t.Fatalf("ParsePriorityFromString() error = %v", err)
	}
	if pr != PriorityHigh {
		t.Fatalf("priority = %s, want HIGH", pr)
	}

	if _, err := ParsePriorityFromString("urgent"); !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestRecipientHasChannel(t *testing.T) {
	t.Parallel()

	token := "device-token"
	phone := "+15551112233"
	r := Recipient{ID: "r-1", DeviceToken: &token, PhoneNumber: &phone}

	if !r.HasChannel(ChannelPush) {
		t.Fatal("push should be available with a device token")
	}
	if !r.HasChannel(ChannelSMS) {
		t.Fatal("sms should be available with a phone number")
	}
	if r.HasChannel(ChannelEmail) {
		t.Fatal("email should be unavailable without an address")
	}
	if !r.HasChannel(ChannelInApp) {
		t.Fatal("in_app should always be available")
	}

	empty := Recipient{ID: "r-2"}
	if empty.HasChannel(ChannelPush) || empty.HasChannel(ChannelSMS) {
		t.Fatal("channels without contact data should be unavailable")
	}
}
