// Package chainmgr orchestrates consortium blockchain networks.
//
// # Overview
//
// A chain is made of nodes ("fronts") spread across hosts owned by
// agencies and organised into consensus groups. chainmgr turns operator
// intents (deploy a chain, add nodes, upgrade, start, stop or delete a node)
// into consistent database records plus generated node configuration, and
// then converges the remote hosts toward that record in the background.
//
// The platform consists of these parts:
//   - API Server: REST API for lifecycle operations (Echo)
//   - Orchestrator: validation and transactional record keeping
//   - Engine: bounded worker pool running SSH and Docker work items
//   - Storage Layer: sqlite through sqlx
//
// # Architecture
//
//	┌─────────────────┐
//	│  CLI / client   │
//	│   (resty)       │
//	└────────┬────────┘
//	         │
//	┌────────▼────────┐       ┌─────────────────┐
//	│  API Server     │       │  Engine         │──► hosts (SSH, Docker)
//	│  (Echo REST)    │──────►│  (work items)   │
//	└────────┬────────┘       └────────┬────────┘
//	         │                         │
//	┌────────▼─────────────────────────▼┐
//	│  Storage Layer (sqlite) + NODES_ROOT │
//	└───────────────────────────────────┘
//
// # Operation Phases
//
// Every mutating operation runs in three phases:
//  1. Validation, including network probes of the hosts involved
//  2. One transaction covering database rows and local configuration files
//  3. Scheduling of remote work on the engine, only after the commit
//
// Operations on the same chain are serialised. Remote work on the same host
// is serialised inside the engine.
//
// # Usage
//
// Start the API server:
//
//	chainmgr server --config configs/config.yaml
//
// Deploy a chain and follow it:
//
//	chainmgr chain deploy chainA --tag 1 --sign-addr 10.0.0.9:5004 \
//	  --host 10.0.0.1:2:org1 --host 10.0.0.2
//	chainmgr chain progress chainA --watch
//
// # Configuration
//
// Configuration can be provided via:
//   - YAML file (configs/config.yaml)
//   - Environment variables (CHAINMGR_ prefix)
//   - .env file
//
// # API Endpoints
//
// Chains:
//   - GET    /api/v1/chains                   - List chains (paginated)
//   - POST   /api/v1/chains                   - Deploy a chain
//   - GET    /api/v1/chains/:name             - Chain with hosts, agencies, groups and nodes
//   - DELETE /api/v1/chains/:name             - Delete a chain
//   - GET    /api/v1/chains/:name/progress    - Deployment progress
//   - POST   /api/v1/chains/:name/upgrade     - Upgrade to another tag
//   - GET    /api/v1/chains/:name/fronts      - List nodes (paginated, status filter)
//   - POST   /api/v1/chains/:name/nodes       - Add nodes
//
// Nodes:
//   - POST   /api/v1/nodes/:nodeId/start      - Start or restart a node
//   - POST   /api/v1/nodes/:nodeId/stop       - Stop a node
//   - DELETE /api/v1/nodes/:nodeId            - Delete a node
//
// Tags:
//   - GET    /api/v1/tags                     - List image tags
//   - POST   /api/v1/tags                     - Register an image tag
//
// Operations:
//   - GET /health   - Health check
//   - GET /metrics  - Prometheus metrics
//
// # Development
//
// Run tests:
//
//	go test ./...
//
// Build the binary:
//
//	go build -o chainmgr ./cmd/chainmgr
package chainmgr
