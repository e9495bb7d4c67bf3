package role

// Profile is the model and system instruction a role sends to the gateway.
type Profile struct {
	Model  string
	System string
}

// Profiles groups one profile per role.
type Profiles struct {
	PM       Profile
	Engineer Profile
	QA       Profile
}

// PipelineProfiles are the defaults for the fixed PM → Engineer → QA run.
func PipelineProfiles() Profiles {
	return Profiles{
		PM: Profile{
			Model: "gpt-4o-mini",
			System: `You are a senior project manager. Analyze the user's request and draft a technical plan.
Reply using these sections:
## Requirements
## Core features
## Technical approach
## Implementation notes`,
		},
		Engineer: Profile{
			Model:  "gpt-4o-mini",
			System: "You are a senior full-stack engineer. Implement the code described by the project manager's analysis. Provide a complete implementation.",
		},
		QA: Profile{
			Model:  "deepseek-chat",
			System: "You are a QA engineer. Review the code quality and suggest tests. Produce a detailed review report.",
		},
	}
}

// BroadcastProfiles are the defaults for the group-chat variant.
func BroadcastProfiles() Profiles {
	return Profiles{
		PM: Profile{
			Model:  "gpt-4o",
			System: "You are the project manager. Follow the group chat and speak up when there is a new requirement or something needs coordination.",
		},
		Engineer: Profile{
			Model:  "gpt-4o",
			System: "You are the engineer. Respond when the PM assigns work or a technical implementation is needed.",
		},
		QA: Profile{
			Model:  "deepseek-reasoner",
			System: "You are the QA engineer. Respond when there is code to review.",
		},
	}
}

// Merge returns p with every non-empty field of override applied.
func (p Profiles) Merge(override Profiles) Profiles {
	p.PM = p.PM.merge(override.PM)
	p.Engineer = p.Engineer.merge(override.Engineer)
	p.QA = p.QA.merge(override.QA)
	return p
}

func (p Profile) merge(o Profile) Profile {
	if o.Model != "" {
		p.Model = o.Model
	}
	if o.System != "" {
		p.System = o.System
	}
	return p
}
