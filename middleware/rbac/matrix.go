package rbac

import "sort"

// Module é uma área funcional da API da fazenda.
type Module string

const (
	ModuleCattle       Module = "cattle"
	ModuleHealth       Module = "health"
	ModuleVaccinations Module = "vaccinations"
	ModuleMedications  Module = "medications"
	ModuleBreeding     Module = "breeding"
	ModuleInventory    Module = "inventory"
	ModuleFinances     Module = "finances"
	ModuleUsers        Module = "users"
	ModuleRanch        Module = "ranch"
	ModuleReports      Module = "reports"
	ModuleFiles        Module = "files"
)

// Action é um verbo permitido dentro de um módulo.
type Action string

const (
	ActionCreate     Action = "create"
	ActionRead       Action = "read"
	ActionUpdate     Action = "update"
	ActionDelete     Action = "delete"
	ActionDiagnose   Action = "diagnose"
	ActionPrescribe  Action = "prescribe"
	ActionAdminister Action = "administer"
	ActionApprove    Action = "approve"
	ActionAudit      Action = "audit"
	ActionExport     Action = "export"
)

// Permission é um par (módulo, ação).
type Permission struct {
	Module Module
	Action Action
}

func (p Permission) String() string { return string(p.Module) + ":" + string(p.Action) }

// Grants descreve a matriz em forma literal: papel -> módulo -> ações.
type Grants map[Role]map[Module][]Action

// PermissionMatrix é a matriz papel -> módulo -> conjunto de ações.
//
// É dado explícito, não derivado do rank: um papel mais alto pode (de propósito)
// ter menos ações em algum módulo. Somente leitura depois de NewPermissionMatrix.
type PermissionMatrix struct {
	grants map[Role]map[Module]map[Action]struct{}
}

func NewPermissionMatrix(g Grants) *PermissionMatrix {
	m := &PermissionMatrix{grants: make(map[Role]map[Module]map[Action]struct{}, len(g))}
	for role, modules := range g {
		byModule := make(map[Module]map[Action]struct{}, len(modules))
		for mod, actions := range modules {
			set := make(map[Action]struct{}, len(actions))
			for _, a := range actions {
				set[a] = struct{}{}
			}
			byModule[mod] = set
		}
		m.grants[role] = byModule
	}
	return m
}

// Allows informa se role pode executar action em module.
// Papel ou módulo ausente na matriz equivale a conjunto vazio.
func (m *PermissionMatrix) Allows(role Role, module Module, action Action) bool {
	if m == nil {
		return false
	}
	_, ok := m.grants[role][module][action]
	return ok
}

// Actions lista (ordenado) as ações de role em module.
func (m *PermissionMatrix) Actions(role Role, module Module) []Action {
	if m == nil {
		return nil
	}
	set := m.grants[role][module]
	out := make([]Action, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var crud = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

func with(base []Action, extra ...Action) []Action {
	out := make([]Action, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}

// DefaultGrants é a matriz padrão da fazenda.
func DefaultGrants() Grants {
	everything := map[Module][]Action{
		ModuleCattle:       crud,
		ModuleHealth:       with(crud, ActionDiagnose, ActionPrescribe),
		ModuleVaccinations: with(crud, ActionAdminister),
		ModuleMedications:  with(crud, ActionPrescribe, ActionAdminister),
		ModuleBreeding:     crud,
		ModuleInventory:    crud,
		ModuleFinances:     with(crud, ActionApprove, ActionAudit, ActionExport),
		ModuleUsers:        with(crud, ActionAudit),
		ModuleRanch:        crud,
		ModuleReports:      []Action{ActionRead, ActionCreate, ActionExport},
		ModuleFiles:        crud,
	}

	return Grants{
		RoleViewer: {
			ModuleCattle:       {ActionRead},
			ModuleHealth:       {ActionRead},
			ModuleVaccinations: {ActionRead},
			ModuleBreeding:     {ActionRead},
			ModuleInventory:    {ActionRead},
			ModuleRanch:        {ActionRead},
			ModuleReports:      {ActionRead},
			ModuleFiles:        {ActionRead},
			ModuleFinances:     {},
		},
		RoleWorker: {
			ModuleCattle:       {ActionCreate, ActionRead, ActionUpdate},
			ModuleHealth:       {ActionCreate, ActionRead},
			ModuleVaccinations: {ActionRead, ActionAdminister},
			ModuleMedications:  {ActionRead, ActionAdminister},
			ModuleBreeding:     {ActionCreate, ActionRead, ActionUpdate},
			ModuleInventory:    {ActionRead, ActionUpdate},
			ModuleRanch:        {ActionRead},
			ModuleReports:      {ActionRead},
			ModuleFiles:        {ActionCreate, ActionRead},
		},
		RoleVeterinarian: {
			ModuleCattle:       {ActionRead, ActionUpdate},
			ModuleHealth:       with(crud, ActionDiagnose, ActionPrescribe),
			ModuleVaccinations: with(crud, ActionAdminister),
			ModuleMedications:  with(crud, ActionPrescribe, ActionAdminister),
			ModuleBreeding:     {ActionRead, ActionUpdate},
			ModuleInventory:    {ActionRead},
			ModuleRanch:        {ActionRead},
			ModuleReports:      {ActionRead, ActionCreate},
			ModuleFiles:        {ActionCreate, ActionRead},
		},
		RoleManager: {
			ModuleCattle:       crud,
			ModuleHealth:       {ActionCreate, ActionRead, ActionUpdate},
			ModuleVaccinations: crud,
			ModuleMedications:  {ActionRead, ActionUpdate},
			ModuleBreeding:     crud,
			ModuleInventory:    crud,
			ModuleFinances:     {ActionCreate, ActionRead, ActionUpdate, ActionApprove, ActionExport},
			ModuleUsers:        {ActionRead},
			ModuleRanch:        {ActionRead, ActionUpdate},
			ModuleReports:      {ActionRead, ActionCreate, ActionExport},
			ModuleFiles:        crud,
		},
		RoleAdmin: everything,
		RoleOwner: everything,
	}
}

// DefaultMatrix é NewPermissionMatrix(DefaultGrants()).
func DefaultMatrix() *PermissionMatrix {
	return NewPermissionMatrix(DefaultGrants())
}
