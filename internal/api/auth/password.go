package auth

import "golang.org/x/crypto/bcrypt"

// dummyHash 是一个合法的 bcrypt 哈希（DefaultCost），用于在用户名不存在时
// 执行等价开销的校验，避免通过响应时间探测账户是否存在。
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// HashPassword 生成密码的 bcrypt 哈希。
//
// 哈希串自带算法标识、cost 和盐，校验时不需要任何额外元数据。
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword 校验明文密码与哈希是否匹配。
//
// 哈希格式非法或无法识别时返回 false，而不是把错误抛给调用方。
func VerifyPassword(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
