// Package routes é a tabela de rotas da API da fazenda: cada método + padrão vira
// uma gate.Route (classe de endpoint + requisitos de papel/permissão).
package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ranch-gateway/middleware/gate"
	"ranch-gateway/middleware/ratelimit/domain"
	"ranch-gateway/middleware/rbac"
)

const fallbackPattern = "/api/*"

// Rule liga método + padrão chi a uma rota do gate.
type Rule struct {
	Method  string
	Pattern string
	Route   gate.Route
	// Heavy passa pelo limite de concorrência antes do upstream (arquivos, lote).
	Heavy bool
}

func perm(m rbac.Module, a rbac.Action) []rbac.Permission {
	return []rbac.Permission{{Module: m, Action: a}}
}

func rule(method, pattern string, class domain.EndpointClass, c rbac.Condition) Rule {
	return Rule{Method: method, Pattern: pattern, Route: gate.Route{Class: class, Condition: c}}
}

// Rules devolve a tabela padrão.
func Rules() []Rule {
	login := Rule{Method: http.MethodPost, Pattern: "/api/auth/login", Route: gate.Route{Class: domain.ClassAuth, Public: true}}
	refresh := Rule{Method: http.MethodPost, Pattern: "/api/auth/refresh", Route: gate.Route{Class: domain.ClassAuth, Public: true}}

	emergency := rule(http.MethodPost, "/api/health/emergency", domain.ClassHealthRecords, rbac.Condition{
		Permissions:      perm(rbac.ModuleHealth, rbac.ActionCreate),
		VeterinaryAccess: true,
	})
	emergency.Route.Lane = domain.VeterinaryLane().Name

	files := []Rule{
		rule(http.MethodGet, "/api/files/*", domain.ClassFiles, rbac.Condition{Permissions: perm(rbac.ModuleFiles, rbac.ActionRead)}),
		rule(http.MethodPost, "/api/files", domain.ClassFiles, rbac.Condition{Permissions: perm(rbac.ModuleFiles, rbac.ActionCreate)}),
		rule(http.MethodDelete, "/api/files/*", domain.ClassFiles, rbac.Condition{Permissions: perm(rbac.ModuleFiles, rbac.ActionDelete)}),
		rule(http.MethodPost, "/api/bulk/*", domain.ClassBulk, rbac.Condition{
			MinimumRole: rbac.RoleVeterinarian,
			Permissions: perm(rbac.ModuleCattle, rbac.ActionUpdate),
		}),
	}
	for i := range files {
		files[i].Heavy = true
	}

	rules := []Rule{
		login,
		refresh,
		rule(http.MethodPost, "/api/auth/logout", domain.ClassAuth, rbac.Condition{MinimumRole: rbac.RoleViewer}),

		rule(http.MethodGet, "/api/cattle", domain.ClassCattleRead, rbac.Condition{Permissions: perm(rbac.ModuleCattle, rbac.ActionRead)}),
		rule(http.MethodGet, "/api/cattle/*", domain.ClassCattleRead, rbac.Condition{Permissions: perm(rbac.ModuleCattle, rbac.ActionRead)}),
		rule(http.MethodPost, "/api/cattle", domain.ClassCattleWrite, rbac.Condition{Permissions: perm(rbac.ModuleCattle, rbac.ActionCreate)}),
		rule(http.MethodPut, "/api/cattle/*", domain.ClassCattleWrite, rbac.Condition{Permissions: perm(rbac.ModuleCattle, rbac.ActionUpdate)}),
		rule(http.MethodPatch, "/api/cattle/*", domain.ClassCattleWrite, rbac.Condition{Permissions: perm(rbac.ModuleCattle, rbac.ActionUpdate)}),
		rule(http.MethodDelete, "/api/cattle/*", domain.ClassCattleWrite, rbac.Condition{
			MinimumRole: rbac.RoleManager,
			Permissions: perm(rbac.ModuleCattle, rbac.ActionDelete),
		}),

		rule(http.MethodGet, "/api/health/*", domain.ClassHealthRecords, rbac.Condition{Permissions: perm(rbac.ModuleHealth, rbac.ActionRead)}),
		rule(http.MethodPost, "/api/health/records", domain.ClassHealthRecords, rbac.Condition{Permissions: perm(rbac.ModuleHealth, rbac.ActionCreate)}),
		rule(http.MethodPost, "/api/health/diagnoses", domain.ClassHealthRecords, rbac.Condition{
			Permissions:      perm(rbac.ModuleHealth, rbac.ActionDiagnose),
			VeterinaryAccess: true,
		}),
		emergency,

		rule(http.MethodGet, "/api/vaccinations/*", domain.ClassRead, rbac.Condition{Permissions: perm(rbac.ModuleVaccinations, rbac.ActionRead)}),
		rule(http.MethodPost, "/api/vaccinations/*", domain.ClassWrite, rbac.Condition{Permissions: perm(rbac.ModuleVaccinations, rbac.ActionAdminister)}),
		rule(http.MethodGet, "/api/medications/*", domain.ClassRead, rbac.Condition{Permissions: perm(rbac.ModuleMedications, rbac.ActionRead)}),
		rule(http.MethodPost, "/api/medications/prescriptions", domain.ClassWrite, rbac.Condition{
			Permissions:      perm(rbac.ModuleMedications, rbac.ActionPrescribe),
			VeterinaryAccess: true,
		}),
		rule(http.MethodPost, "/api/medications/administrations", domain.ClassWrite, rbac.Condition{Permissions: perm(rbac.ModuleMedications, rbac.ActionAdminister)}),

		rule(http.MethodGet, "/api/breeding/*", domain.ClassRead, rbac.Condition{Permissions: perm(rbac.ModuleBreeding, rbac.ActionRead)}),
		rule(http.MethodPost, "/api/breeding/*", domain.ClassWrite, rbac.Condition{Permissions: perm(rbac.ModuleBreeding, rbac.ActionCreate)}),
		rule(http.MethodGet, "/api/inventory/*", domain.ClassRead, rbac.Condition{Permissions: perm(rbac.ModuleInventory, rbac.ActionRead)}),
		rule(http.MethodPut, "/api/inventory/*", domain.ClassWrite, rbac.Condition{Permissions: perm(rbac.ModuleInventory, rbac.ActionUpdate)}),

		rule(http.MethodGet, "/api/finances/*", domain.ClassRead, rbac.Condition{
			Permissions:     perm(rbac.ModuleFinances, rbac.ActionRead),
			FinancialAccess: true,
		}),
		rule(http.MethodPost, "/api/finances/transactions", domain.ClassWrite, rbac.Condition{
			Permissions:     perm(rbac.ModuleFinances, rbac.ActionCreate),
			FinancialAccess: true,
		}),
		rule(http.MethodPost, "/api/finances/transactions/{id}/approve", domain.ClassWrite, rbac.Condition{
			Permissions:     perm(rbac.ModuleFinances, rbac.ActionApprove),
			FinancialAccess: true,
		}),

		rule(http.MethodGet, "/api/users/*", domain.ClassRead, rbac.Condition{
			Permissions:          perm(rbac.ModuleUsers, rbac.ActionRead),
			UserManagementAccess: true,
		}),
		rule(http.MethodPost, "/api/users", domain.ClassWrite, rbac.Condition{
			Permissions:          perm(rbac.ModuleUsers, rbac.ActionCreate),
			UserManagementAccess: true,
		}),
		rule(http.MethodDelete, "/api/users/*", domain.ClassWrite, rbac.Condition{
			Permissions:          perm(rbac.ModuleUsers, rbac.ActionDelete),
			UserManagementAccess: true,
		}),

		rule(http.MethodGet, "/api/ranch", domain.ClassRead, rbac.Condition{Permissions: perm(rbac.ModuleRanch, rbac.ActionRead)}),
		rule(http.MethodPut, "/api/ranch", domain.ClassWrite, rbac.Condition{
			ExactRoles:  []rbac.Role{rbac.RoleAdmin, rbac.RoleOwner},
			Permissions: perm(rbac.ModuleRanch, rbac.ActionUpdate),
		}),

		rule(http.MethodGet, "/api/reports/*", domain.ClassReports, rbac.Condition{Permissions: perm(rbac.ModuleReports, rbac.ActionRead)}),
		rule(http.MethodPost, "/api/reports/export", domain.ClassReports, rbac.Condition{Permissions: perm(rbac.ModuleReports, rbac.ActionExport)}),

		rule(http.MethodGet, "/api/integrations/*", domain.ClassExternalAPI, rbac.Condition{MinimumRole: rbac.RoleViewer}),
		rule(http.MethodPost, "/api/integrations/*", domain.ClassExternalAPI, rbac.Condition{MinimumRole: rbac.RoleWorker}),
	}
	return append(rules, files...)
}

// Fallback classifica o que não está na tabela: leitura para GET/HEAD, escrita
// para o resto, sempre exigindo usuário autenticado.
func Fallback(method string) gate.Route {
	if method == http.MethodGet || method == http.MethodHead {
		return gate.Route{Class: domain.ClassRead, Condition: rbac.Condition{MinimumRole: rbac.RoleViewer}}
	}
	return gate.Route{Class: domain.ClassWrite, Condition: rbac.Condition{MinimumRole: rbac.RoleWorker}}
}

// Mount registra as regras em r. Toda rota termina em handler (proxy ou stub).
// heavy pode ser nil.
func Mount(r chi.Router, rules []Rule, protect *gate.HTTP, heavy func(http.Handler) http.Handler, handler http.Handler) {
	for _, rl := range rules {
		if rl.Route.Pattern == "" {
			rl.Route.Pattern = rl.Pattern
		}
		mws := []func(http.Handler) http.Handler{protect.Require(rl.Route)}
		if rl.Heavy && heavy != nil {
			mws = append(mws, heavy)
		}
		r.With(mws...).Method(rl.Method, rl.Pattern, handler)
	}

	fallbackRead, fallbackWrite := Fallback(http.MethodGet), Fallback(http.MethodPost)
	fallbackRead.Pattern, fallbackWrite.Pattern = fallbackPattern, fallbackPattern
	read := protect.Require(fallbackRead)(handler)
	write := protect.Require(fallbackWrite)(handler)
	r.Handle(fallbackPattern, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet || req.Method == http.MethodHead {
			read.ServeHTTP(w, req)
			return
		}
		write.ServeHTTP(w, req)
	}))
}
