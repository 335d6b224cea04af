// Package rbac define a hierarquia de papéis da fazenda, a matriz de permissões
// por módulo e o avaliador de condições de autorização.
//
// Tudo aqui é puro: sem I/O, sem estado mutável depois da construção, sem net/http.
// O gate (pacote gate) chama Evaluator.Authorize antes do rate limit.
//
// Ordem de avaliação de uma Condition (a primeira falha vence):
//
//  1. identidade presente
//  2. MinimumRole
//  3. ExactRoles
//  4. Permissions (módulo/ação)
//  5. VeterinaryAccess
//  6. FinancialAccess
//  7. UserManagementAccess
package rbac
