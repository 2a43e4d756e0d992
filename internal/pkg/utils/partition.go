package utils

// PartitionForID 按 batch_id 选择分区，同一个 id 总是落到同一分区。
// 非加密哈希，仅适合负载均匀场景。
func PartitionForID(id uint64, mod uint32) uint32 {
	if mod <= 1 {
		return 0
	}
	switch mod {
	case 2, 4, 8, 16:
		return uint32(id) & (mod - 1) // 快速路径：低位掩码替代 hash + %
	}

	// 混合高低位，slot 连续递增时也能打散
	h := id ^ (id >> 33)
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	return uint32(h % uint64(mod))
}
