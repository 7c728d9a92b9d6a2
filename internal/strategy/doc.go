// Package strategy picks one backend out of the candidates the load balancer
// hands it. Candidates are already healthy and not yet tried for the request.
//
//   - Round Robin: sequential distribution
//   - Weighted Round Robin: smooth distribution proportional to each backend's
//     effective weight (configured weight scaled by its probe reliability)
//   - Least Response Time: lowest EWMA response time, penalised by active
//     connections and low reliability
//   - Least Connections: fewest active connections, ties go to the more
//     reliable backend
package strategy
