package flow

// The standard library of flows every organization starts with.

const (
	LibraryPlan = `flow:
  - type: "terraformPlan"
    name: "Plan"
    step: 100`

	LibraryPlanApply = `flow:
  - type: "terraformPlan"
    name: "Plan"
    step: 100
  - type: "terraformApply"
    name: "Apply"
    step: 200`

	LibraryDestroy = `flow:
  - type: "terraformDestroy"
    name: "Destroy"
    step: 100`

	LibraryApplyCli = `flow:
- type: "terraformPlan"
  name: "Terraform Plan from Terraform CLI"
  step: 100
- type: "approval"
  name: "Approve Plan from Terraform CLI"
  step: 150
  team: "TERRAFORM_CLI"
- type: "terraformApply"
  name: "Terraform Apply from Terraform CLI"
  step: 200
`

	LibraryDestroyCli = `flow:
- type: "terraformPlanDestroy"
  name: "Terraform Plan Destroy from Terraform CLI"
  step: 100
- type: "approval"
  name: "Approve Plan from Terraform CLI"
  step: 150
  team: "TERRAFORM_CLI"
- type: "terraformApply"
  name: "Terraform Apply from Terraform CLI"
  step: 200
`
)

type LibraryTemplate struct {
	Name        string
	Description string
	Document    string
}

// Tcl is the encoded transport form of the template's document.
func (t LibraryTemplate) Tcl() string {
	return Encode([]byte(t.Document))
}

func Library() []LibraryTemplate {
	return []LibraryTemplate{
		{Name: "Plan", Description: "Running Terraform plan", Document: LibraryPlan},
		{Name: "Plan and apply", Description: "Running Terraform plan and apply", Document: LibraryPlanApply},
		{Name: "Destroy", Description: "Running Terraform destroy", Document: LibraryDestroy},
		{Name: "Terraform-Plan/Apply-Cli", Description: "Running Terraform apply from Terraform CLI", Document: LibraryApplyCli},
		{Name: "Terraform-Plan/Destroy-Cli", Description: "Running Terraform destroy from Terraform CLI", Document: LibraryDestroyCli},
	}
}
