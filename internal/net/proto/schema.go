package proto

import (
	"reflect"

	"github.com/invopop/jsonschema"
)

// Schema describes the JSON form of every message on the wire. Client
// messages share one envelope; server messages are listed by type.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}

	client := reflectMessage(reflector, ClientMessage{}, "Client Message",
		"Envelope for join, move, dodge, fire, reconcileHit, timeSync and heartbeat.")

	server := []*jsonschema.Schema{
		reflectMessage(reflector, JoinResponse{}, "Join Response", "Reply to POST /join."),
		reflectMessage(reflector, StateSnapshot{}, "State", "Per-tick world snapshot."),
		reflectMessage(reflector, HitResult{}, "Hit Result", "Verdict for a reconcileHit claim, sent to the claimant."),
		reflectMessage(reflector, TimeSyncReply{}, "Time Sync Reply", "Server time echoed against the client's request."),
		reflectMessage(reflector, Heartbeat{}, "Heartbeat", "Heartbeat acknowledgement with measured round trip."),
		reflectMessage(reflector, CommandReject{}, "Command Reject", "A command the simulation refused."),
	}

	return &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "Rewind Arena Protocol",
		Description: "Messages exchanged over the /ws endpoint, protocol version 1.",
		OneOf: []*jsonschema.Schema{
			client,
			{Title: "Server Message", OneOf: server},
		},
	}
}

func reflectMessage(reflector jsonschema.Reflector, v any, title, description string) *jsonschema.Schema {
	schema := reflector.ReflectFromType(reflect.TypeOf(v))
	schema.Version = ""
	schema.Title = title
	schema.Description = description
	return schema
}
