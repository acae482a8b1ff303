package agent

import (
	"fmt"
	"strings"

	"leadlock_backend/internal/leads/domain"
	"leadlock_backend/internal/leads/ports"
)

const baseInstruction = `You text with homeowners on behalf of a home-services contractor (plumbing, HVAC, electrical).

RULES:
- Write one SMS of at most 300 characters, plain text, no emoji.
- Never include links or URL shorteners.
- Never quote prices or promise arrival times.
- Never ask for payment details.
- Always submit your message with the SubmitReply tool. Do not answer in free text.
- Only set next_state to one of the allowed states listed in the lead context, or leave it empty to keep the current state.
`

var roleInstructions = map[Role]string{
	RoleIntake: `ROLE: Intake.
Greet the lead by first name, introduce the business by name and ask one question that moves toward understanding the job.
On the first message you MUST include the business name and the words "Reply STOP to opt out."
If the lead reports an emergency (gas smell, carbon monoxide, sparking, flooding), tell them to get to safety and call 911 first.
When the lead answers with any detail about their problem, set next_state to "qualifying".`,
	RoleQualifier: `ROLE: Qualifier.
Find out what the problem is, where the property is and whether the lead can authorize the work.
Ask one question at a time. Add score_delta between -20 and 20 for how likely the job is.
When you know the job, the location and that the lead can authorize it, set next_state to "qualified".
If the lead says they no longer need help, set next_state to "dead".`,
	RoleBooker: `ROLE: Booker.
Agree on a day and time window for a visit. Offer to have a team member confirm the exact slot.
Set next_state to "booking" once you start proposing times and to "booked" once the lead confirms a window.`,
	RoleConcierge: `ROLE: Concierge.
The visit is booked or done. Answer questions, confirm details and collect feedback politely.
Set next_state to "completed" only when the lead confirms the work was finished.`,
	RoleReengager: `ROLE: Re-engagement.
The lead went quiet earlier and just wrote back. Welcome them back and ask what they need done.
Set next_state to "qualifying" when they describe a job.`,
}

func instructionFor(role Role) string {
	return baseInstruction + "\n" + roleInstructions[role]
}

// allowedNextStates lists what a responder may propose. Opt-out is handled
// by keyword and is never proposed by a model.
func allowedNextStates(from domain.State) []domain.State {
	var out []domain.State
	for _, s := range domain.AllowedTransitions(from) {
		if s != domain.StateOptedOut {
			out = append(out, s)
		}
	}
	return out
}

func buildPrompt(in ports.ResponderInput) string {
	lead := in.Lead
	allowed := allowedNextStates(lead.State)
	names := make([]string, 0, len(allowed))
	for _, s := range allowed {
		names = append(names, string(s))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Business: %s\n", in.Tenant.BusinessName)
	fmt.Fprintf(&b, "Lead first name: %s\n", valueOr(lead.FirstName, "unknown"))
	fmt.Fprintf(&b, "Lead source: %s\n", valueOr(lead.Source, "unknown"))
	fmt.Fprintf(&b, "Current state: %s\n", lead.State)
	fmt.Fprintf(&b, "Allowed next states: %s\n", valueOr(strings.Join(names, ", "), "none"))
	fmt.Fprintf(&b, "Conversation turns so far: %d\n", lead.ConversationTurns)
	if lead.IsEmergency {
		fmt.Fprintf(&b, "EMERGENCY reported: %s\n", lead.EmergencyCategory)
	}
	if in.FirstMessage {
		b.WriteString("This is the first message to this lead.\n")
	}
	if strings.TrimSpace(in.InboundText) != "" {
		fmt.Fprintf(&b, "\nLead wrote:\n%s\n", in.InboundText)
	}
	return b.String()
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
