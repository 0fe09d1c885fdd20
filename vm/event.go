package vm

import "fmt"

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// StaticEvent names an event every object has a dedicated handler slot for.
type StaticEvent uint8

const (
	EventCreate StaticEvent = iota
	EventDestroy
	EventStepBegin
	EventStep
	EventStepEnd
	EventStepBuiltin
	EventDrawBegin
	EventDraw
	EventDrawEnd

	StaticEventCount = int(iota)
)

var staticEventNames = [StaticEventCount]string{
	"create", "destroy", "step_begin", "step", "step_end", "step_builtin",
	"draw_begin", "draw", "draw_end",
}

func (ev StaticEvent) String() string {
	if int(ev) < StaticEventCount {
		return staticEventNames[ev]
	}
	return fmt.Sprintf("StaticEvent(%d)", uint8(ev))
}

// DynamicEvent is the event family of a dynamic (event, subevent) pair.
type DynamicEvent uint8

const (
	DynCreate     DynamicEvent = 0
	DynDestroy    DynamicEvent = 1
	DynAlarm      DynamicEvent = 2
	DynStep       DynamicEvent = 3
	DynCollision  DynamicEvent = 4
	DynKeyboard   DynamicEvent = 5
	DynMouse      DynamicEvent = 6
	DynOther      DynamicEvent = 7
	DynDraw       DynamicEvent = 8
	DynKeyPress   DynamicEvent = 9
	DynKeyRelease DynamicEvent = 10
)

// DynamicSubEvent selects a member of a DynamicEvent family. Values overlap
// between families.
type DynamicSubEvent int32

const (
	SubNone        DynamicSubEvent = 0
	SubStepNormal  DynamicSubEvent = 0
	SubStepBegin   DynamicSubEvent = 1
	SubStepEnd     DynamicSubEvent = 2
	SubStepBuiltin DynamicSubEvent = 135

	SubDrawNormal DynamicSubEvent = 0
	SubDrawBegin  DynamicSubEvent = 72
	SubDrawEnd    DynamicSubEvent = 73
	SubDrawPre    DynamicSubEvent = 76
	SubDrawPost   DynamicSubEvent = 77

	SubOtherGameStart DynamicSubEvent = 2
	SubOtherGameEnd   DynamicSubEvent = 3
	SubOtherRoomStart DynamicSubEvent = 4
	SubOtherRoomEnd   DynamicSubEvent = 5
	SubOtherAnimEnd   DynamicSubEvent = 7
	SubOtherUser0     DynamicSubEvent = 10

	SubOtherAsyncImage    DynamicSubEvent = 60
	SubOtherAsyncHTTP     DynamicSubEvent = 62
	SubOtherAsyncDialog   DynamicSubEvent = 63
	SubOtherAsyncCloud    DynamicSubEvent = 67
	SubOtherAsyncNetwork  DynamicSubEvent = 68
	SubOtherAsyncSaveLoad DynamicSubEvent = 72
	SubOtherAsyncSystem   DynamicSubEvent = 75
)

// SubOtherUser returns the sub-event of user event n (0 to 15).
func SubOtherUser(n int) DynamicSubEvent { return SubOtherUser0 + DynamicSubEvent(n) }

// EventKey identifies a dynamic event handler.
type EventKey struct {
	Event DynamicEvent
	Sub   DynamicSubEvent
}

func (k EventKey) String() string { return fmt.Sprintf("%d:%d", k.Event, k.Sub) }

// NoEvent is the code index stored for an event with no handler.
const NoEvent = 0xffffff

// DynamicToStatic maps a dynamic pair onto its static slot. Step-begin and
// step-end are crossed over; scripts written against the reference engine
// depend on that mapping.
func DynamicToStatic(ev DynamicEvent, sub DynamicSubEvent) (StaticEvent, bool) {
	switch ev {
	case DynCreate:
		return EventCreate, true
	case DynDestroy:
		return EventDestroy, true
	case DynStep:
		switch sub {
		case SubStepNormal:
			return EventStep, true
		case SubStepBuiltin:
			return EventStepBuiltin, true
		case SubStepBegin:
			return EventStepEnd, true
		case SubStepEnd:
			return EventStepBegin, true
		}
	case DynDraw:
		if sub == SubDrawNormal {
			return EventDraw, true
		}
	}
	return 0, false
}
