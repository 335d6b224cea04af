// Package identity resolve quem está chamando (usuário + papel) e guarda o
// resultado no contexto da requisição como domain.Identity.
//
// Dois resolvers:
//
//   - JWTResolver: bearer token HS256 (claims "sub" e "role", issuer opcional)
//   - HeaderResolver: headers confiáveis injetados por um proxy de autenticação
//
// Falha de autenticação não nega nada aqui: a requisição segue anônima e o gate
// decide (NOT_AUTHENTICATED em rotas protegidas, chave ip:* na admissão).
package identity
