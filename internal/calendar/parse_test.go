package calendar

import (
	"reflect"
	"testing"
)

const currentShape = `{
  "data": [
    {
      "uid": "abc-123",
      "id": 42,
      "title": "Intro call",
      "start": "2024-06-01T15:00:00Z",
      "status": "ACCEPTED",
      "eventTypeId": 7,
      "metadata": {"calendarId": "cal-9"},
      "attendees": [{"name": "Ana", "phoneNumber": "+5511999999999", "timeZone": "America/Sao_Paulo"}]
    }
  ]
}`

const legacyShape = `{
  "bookings": [
    {
      "uid": "abc-123",
      "id": 42,
      "title": "Intro call",
      "startTime": "2024-06-01T15:00:00Z",
      "status": "ACCEPTED",
      "eventTypeId": 7,
      "metadata": {"calendarId": "cal-9"},
      "attendees": [{"name": "Ana", "phoneNumber": "+5511999999999", "timeZone": "America/Sao_Paulo"}]
    }
  ]
}`

func TestParseResponse_ShapesNormalizeIdentically(t *testing.T) {
	fromCurrent, err := ParseResponse("2024-08-13", []byte(currentShape))
	if err != nil {
		t.Fatalf("current shape: %v", err)
	}
	fromLegacy, err := ParseResponse(LegacyAPIVersion, []byte(legacyShape))
	if err != nil {
		t.Fatalf("legacy shape: %v", err)
	}

	if !reflect.DeepEqual(fromCurrent, fromLegacy) {
		t.Errorf("normalized bookings differ:\n current: %+v\n legacy:  %+v", fromCurrent, fromLegacy)
	}

	if len(fromCurrent) != 1 {
		t.Fatalf("expected 1 booking, got %d", len(fromCurrent))
	}
	b := fromCurrent[0]
	if b.UID != "abc-123" || b.ID != 42 || b.EventTypeID != 7 || b.CalendarID != "cal-9" {
		t.Errorf("unexpected normalization: %+v", b)
	}
	if b.Start == nil || b.Start.UTC().Format("2006-01-02T15:04:05Z") != "2024-06-01T15:00:00Z" {
		t.Errorf("start not parsed: raw=%q parsed=%v", b.StartRaw, b.Start)
	}
	if b.AttendeePhone != "+5511999999999" {
		t.Errorf("attendee phone = %q", b.AttendeePhone)
	}
}

func TestParseResponse_FallsBackToOtherShape(t *testing.T) {
	// A legacy-configured agent pointed at a current-shaped response still works.
	got, err := ParseResponse(LegacyAPIVersion, []byte(currentShape))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected fallback to data shape, got %d bookings", len(got))
	}
}

func TestParseResponse_NeitherShapeIsEmptyNotError(t *testing.T) {
	got, err := ParseResponse("2024-08-13", []byte(`{"items": [{"uid": "x"}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result for unknown shape, got %d", len(got))
	}
}

func TestParseResponse_UnparseableStartKept(t *testing.T) {
	got, err := ParseResponse("2024-08-13", []byte(`{"data": [{"uid": "x", "start": "soonish"}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 booking, got %d", len(got))
	}
	if got[0].Start != nil {
		t.Error("unparseable start should leave Start nil")
	}
	if got[0].StartRaw != "soonish" {
		t.Errorf("StartRaw = %q, want soonish", got[0].StartRaw)
	}
}

func TestParseResponse_MalformedJSON(t *testing.T) {
	if _, err := ParseResponse("2024-08-13", []byte(`{`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}
