package configgen

const configIniTemplate = `[rpc]
    channel_listen_ip=0.0.0.0
    channel_listen_port={{ .Ports.Channel }}
    jsonrpc_listen_ip=127.0.0.1
    jsonrpc_listen_port={{ .Ports.RPC }}
[p2p]
    listen_ip=0.0.0.0
    listen_port={{ .Ports.P2P }}
    ; peers of group {{ .GroupID }}
{{- range $i, $peer := .Peers }}
    node.{{ $i }}={{ $peer }}
{{- end }}
[certificate_blacklist]
[group]
    group_data_path=data/
    group_config_path=conf/
[network_security]
    data_path=conf/
    key=node.key
[chain]
    id=1
    name={{ .Chain | quote }}
[chain_encrypt]
    sm_crypto={{ eq .EncryptType 1 }}
[log]
    enable=true
    log_path=./log
    level={{ .LogLevel | default "info" | lower }}
`

const genesisTemplate = `[consensus]
    consensus_type=pbft
    max_trans_num=1000
{{- range $i, $id := .Sealers }}
    node.{{ $i }}={{ $id }}
{{- end }}
[state]
    type=storage
[tx]
    gas_limit=300000000
[group]
    id={{ .GroupID }}
    timestamp={{ .Timestamp }}
[evm]
    enable_free_storage=false
`

const groupIniTemplate = `[consensus]
    ttl=2
    min_block_generation_time=500
    enable_dynamic_block_size=true
[storage]
    type=rocksdb
[tx_pool]
    limit=150000
[sync]
    idle_wait_ms=200
    ; group {{ .GroupID }} of {{ .Chain }}
`
