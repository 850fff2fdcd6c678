package schema

var (
	// bucket
	HeartbeatBucket = "heartbeat-bucket" // key: lowercased user address, val: json(HeartbeatRecord)
	ConstantsBucket = "constants-bucket" // key: const name, val: raw bytes
)
